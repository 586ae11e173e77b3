package core

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gwi.com/classroom-messaging/internal/store"
)

// ThreadAccess decides who may subscribe to a conversation channel.
type ThreadAccess struct {
	store  store.MessageStore
	logger *zap.Logger
}

func NewThreadAccess(s store.MessageStore, logger *zap.Logger) *ThreadAccess {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadAccess{store: s, logger: logger}
}

// CanAccessThread lets a user follow a thread whose id names them as a participant, or one whose
// latest message they sent or received.
func (a *ThreadAccess) CanAccessThread(ctx context.Context, userID, threadID string) bool {
	if userID == "" || threadID == "" {
		return false
	}
	if strings.HasPrefix(threadID, userID+"_") || strings.HasSuffix(threadID, "_"+userID) {
		return true
	}

	msgs, err := a.store.GetLastNMessagesByThreadID(ctx, threadID, 1)
	if err != nil {
		a.logger.Warn("Failed to check thread access", zap.Error(err), zap.String("thread_id", threadID))
		return false
	}
	return len(msgs) == 1 && (msgs[0].From == userID || msgs[0].To == userID)
}
