package chat

import "sync"

// userQueue hands messages to handler one at a time per user, in arrival
// order. Different users are served concurrently; a user's worker exits
// once their backlog is empty.
type userQueue struct {
	handler func(InboundMessage)

	mu      sync.Mutex
	backlog map[string][]InboundMessage
}

func newUserQueue(handler func(InboundMessage)) *userQueue {
	return &userQueue{
		handler: handler,
		backlog: make(map[string][]InboundMessage),
	}
}

func (q *userQueue) push(msg InboundMessage) {
	q.mu.Lock()
	pending, running := q.backlog[msg.UserID]
	q.backlog[msg.UserID] = append(pending, msg)
	q.mu.Unlock()

	if !running {
		go q.drain(msg.UserID)
	}
}

func (q *userQueue) drain(userID string) {
	for {
		q.mu.Lock()
		pending := q.backlog[userID]
		if len(pending) == 0 {
			delete(q.backlog, userID)
			q.mu.Unlock()
			return
		}
		msg := pending[0]
		q.backlog[userID] = pending[1:]
		q.mu.Unlock()

		q.handler(msg)
	}
}
