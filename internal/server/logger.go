package server

import (
	"fmt"
	"io"
	"log"
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type stdLogger struct {
	l     *log.Logger
	debug bool
}

// NewStdLogger logs through the standard library logger. Debug lines are
// dropped unless debug is set.
func NewStdLogger(w io.Writer, debug bool) Logger {
	return &stdLogger{l: log.New(w, "", log.LstdFlags), debug: debug}
}

func (s *stdLogger) Debugf(format string, args ...interface{}) {
	if s.debug {
		s.l.Output(2, "DEBUG: "+fmt.Sprintf(format, args...))
	}
}

func (s *stdLogger) Infof(format string, args ...interface{}) {
	s.l.Output(2, fmt.Sprintf(format, args...))
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.l.Output(2, "ERROR: "+fmt.Sprintf(format, args...))
}

// prefixLogger tags every line with a session id.
type prefixLogger struct {
	Logger
	prefix string
}

func (p prefixLogger) Debugf(format string, args ...interface{}) {
	p.Logger.Debugf(p.prefix+format, args...)
}

func (p prefixLogger) Infof(format string, args ...interface{}) {
	p.Logger.Infof(p.prefix+format, args...)
}

func (p prefixLogger) Errorf(format string, args ...interface{}) {
	p.Logger.Errorf(p.prefix+format, args...)
}
