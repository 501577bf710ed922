package app

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/transcriptalign/internal/api"
	"github.com/MrWong99/transcriptalign/internal/mcpserver"
	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/align/orchestrator"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

var (
	_ api.Aligner       = (*swapAligner)(nil)
	_ mcpserver.Aligner = (*swapAligner)(nil)
)

// swapAligner forwards to the current orchestrator. A config reload stores a
// new one; runs in flight finish on the old one.
type swapAligner struct {
	cur atomic.Pointer[orchestrator.Orchestrator]
}

func newSwapAligner(o *orchestrator.Orchestrator) *swapAligner {
	s := &swapAligner{}
	s.cur.Store(o)
	return s
}

func (s *swapAligner) swap(o *orchestrator.Orchestrator) { s.cur.Store(o) }

func (s *swapAligner) Run(ctx context.Context, audio stt.AudioSource, transcript string, opts ...align.Option) (*types.AlignmentResult, error) {
	return s.cur.Load().Run(ctx, audio, transcript, opts...)
}

func (s *swapAligner) AlignWords(ctx context.Context, source string, words []stt.WordDetail, transcript string, opts ...align.Option) (*types.AlignmentResult, error) {
	return s.cur.Load().AlignWords(ctx, source, words, transcript, opts...)
}
