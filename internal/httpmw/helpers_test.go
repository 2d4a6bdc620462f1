package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/tradedesk/internal/log"
)

type captured struct {
	msg string
	err error
	kv  []any
}

// spyLogger records Info and Error calls and returns itself from With so
// everything lands in one place. withs keeps each With call's fields.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	infos  []captured
	errors []captured
	withs  [][]any
}

func newSpyLogger() *spyLogger { return &spyLogger{Logger: log.Nop()} }

func (s *spyLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withs = append(s.withs, kv)
	return s
}

func (s *spyLogger) Info(_ context.Context, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, captured{msg: msg, kv: kv})
}

func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, captured{msg: msg, err: err, kv: kv})
}

func (s *spyLogger) lastInfo() (captured, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.infos) == 0 {
		return captured{}, false
	}
	return s.infos[len(s.infos)-1], true
}

func (s *spyLogger) lastError() (captured, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errors) == 0 {
		return captured{}, false
	}
	return s.errors[len(s.errors)-1], true
}

// field returns the value for key in a flat kv list.
func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

// withField searches every With call for key.
func (s *spyLogger) withField(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range s.withs {
		if v, ok := field(kv, key); ok {
			return v, true
		}
	}
	return nil, false
}
