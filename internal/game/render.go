package game

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/p-n-ai/geoquiz-bot/internal/chat"
	"github.com/p-n-ai/geoquiz-bot/internal/geo"
	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
)

// User-facing text. The bot speaks Brazilian Portuguese only.
const (
	textWelcome        = "Bem-vindo!"
	textCountry        = "Você está no país: %s"
	textLoading        = "Carregando..."
	textDenied         = "Localização não compartilhada. Você ainda pode jogar o quiz."
	textNotFound       = "Não foi possível identificar seu país."
	textSelectCountry  = "Selecione seu país para começar o quiz:"
	textQuizTitle      = "Quiz: %s"
	textResult         = "Você acertou %d de %d perguntas!"
	textLocationPrompt = "Para mostrar seu país na tela inicial, compartilhe sua localização."
	textLocationAck    = "Obrigado! Procurando seu país..."
	textDeclineAck     = "Tudo bem, seguimos sem localização."
	textError          = "Desculpe, algo deu errado. Tente novamente em instantes."

	labelStart   = "Iniciar Quiz"
	labelHome    = "Voltar ao Início"
	labelSubmit  = "Enviar Respostas"
	labelSwitch  = "Trocar Quiz"
	labelShare   = "📍 Compartilhar localização"
	LabelDecline = "Não compartilhar"

	selectedMarker = "➜ "
)

// Button actions. Options are addressed by index so callback payloads stay
// short whatever the option text.
const (
	actionHome    = "home"
	actionSelect  = "select"
	actionCountry = "country"
	actionOption  = "opt"
	actionSubmit  = "submit"
	actionSwitch  = "switch"
)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// renderScreen builds the message for the session's current screen.
func renderScreen(st *State, set quiz.QuestionSet) chat.OutboundMessage {
	s := st.Quiz
	switch s.Screen() {
	case quiz.ScreenSelectCountry:
		return renderSelectCountry(set)
	case quiz.ScreenQuiz:
		return renderQuiz(s)
	case quiz.ScreenResult:
		return renderResult(s)
	default:
		return renderHome(st.Location)
	}
}

func renderHome(loc geo.LocationInfo) chat.OutboundMessage {
	return chat.OutboundMessage{
		Screen:  quiz.ScreenHome.String(),
		Text:    textWelcome + "\n" + locationLine(loc),
		Buttons: [][]chat.Button{{{Label: labelStart, Action: actionSelect}}},
	}
}

func locationLine(loc geo.LocationInfo) string {
	if country, ok := loc.CountryName(); ok {
		return printer.Sprintf(textCountry, country)
	}
	switch loc.Status {
	case geo.StatusDenied:
		return textDenied
	case geo.StatusNotFound:
		return textNotFound
	default:
		return textLoading
	}
}

func renderSelectCountry(set quiz.QuestionSet) chat.OutboundMessage {
	countries := set.Countries()
	rows := make([][]chat.Button, 0, len(countries)+1)
	for _, c := range countries {
		rows = append(rows, []chat.Button{{Label: c, Action: actionCountry + ":" + c}})
	}
	rows = append(rows, []chat.Button{{Label: labelHome, Action: actionHome}})
	return chat.OutboundMessage{
		Screen:  quiz.ScreenSelectCountry.String(),
		Text:    textSelectCountry,
		Buttons: rows,
	}
}

func renderQuiz(s *quiz.Session) chat.OutboundMessage {
	country, _ := s.Country()
	questions := s.Questions()

	var b strings.Builder
	b.WriteString(printer.Sprintf(textQuizTitle, country))
	rows := make([][]chat.Button, 0, len(questions)+1)
	for i, q := range questions {
		selected, answered := s.Selection(i)
		b.WriteString(printer.Sprintf("\n\n%d. %s", i+1, q.Prompt))
		if answered {
			b.WriteString("\n" + selectedMarker + selected)
		}

		row := make([]chat.Button, 0, len(q.Options))
		for j, opt := range q.Options {
			row = append(row, chat.Button{
				Label:    printer.Sprintf("%d. %s", i+1, opt),
				Action:   optionAction(i, j),
				Selected: answered && opt == selected,
			})
		}
		rows = append(rows, row)
	}
	rows = append(rows, []chat.Button{
		{Label: labelSubmit, Action: actionSubmit},
		{Label: labelSwitch, Action: actionSwitch},
	})

	return chat.OutboundMessage{
		Screen:  quiz.ScreenQuiz.String(),
		Text:    b.String(),
		Buttons: rows,
	}
}

func renderResult(s *quiz.Session) chat.OutboundMessage {
	score, total, _ := s.Result()
	return chat.OutboundMessage{
		Screen:  quiz.ScreenResult.String(),
		Text:    printer.Sprintf(textResult, score, total),
		Buttons: [][]chat.Button{{{Label: labelHome, Action: actionHome}}},
	}
}

func renderLocationPrompt() chat.OutboundMessage {
	return chat.OutboundMessage{
		Text: textLocationPrompt,
		RequestLocation: &chat.LocationRequest{
			ShareLabel:   labelShare,
			DeclineLabel: LabelDecline,
		},
	}
}

func optionAction(question, option int) string {
	return actionOption + ":" + strconv.Itoa(question) + ":" + strconv.Itoa(option)
}
