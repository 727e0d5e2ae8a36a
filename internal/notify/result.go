package notify

import (
	"context"
	"fmt"

	"github.com/musicverse/api/internal/model"
)

// ResultReporter adapts a Notifier to generation outcomes. The chat ID
// is the operations channel; per-user delivery is out of scope here.
type ResultReporter struct {
	notifier Notifier
	chatID   string
}

func NewResultReporter(notifier Notifier, chatID string) *ResultReporter {
	return &ResultReporter{notifier: notifier, chatID: chatID}
}

func (r *ResultReporter) NotifyResult(ctx context.Context, req *model.GenerationRequest, outcome string) {
	if r.notifier == nil {
		return
	}
	msg := fmt.Sprintf("generation %s: %s (model %s)", req.ID, outcome, req.EffectiveModel)
	if req.ErrorMessage != "" {
		msg += " - " + req.ErrorMessage
	}
	r.notifier.Notify(ctx, r.chatID, msg)
}
