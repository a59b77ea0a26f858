// Package ircdlog is the server's structured logger. It follows
// ingest/log directly: RFC5424-formatted output (github.com/crewjam/
// rfc5424), a Level ladder, a hostname/appname metadata block set once
// at startup, and pluggable io.WriteCloser sinks so the same Logger can
// fan out to a file and a syslog relay at once. Unlike ingest/log this
// logger always carries structured fields (KV pairs), since every
// interesting ircd event — accept, register, join, squit — has a
// natural key set (uid, nick, channel, sid) worth being able to grep
// and filter on.
package ircdlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "OFF"
	}
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.Daemon | rfc5424.Debug
	case INFO:
		return rfc5424.Daemon | rfc5424.Info
	case WARN:
		return rfc5424.Daemon | rfc5424.Warning
	case ERROR:
		return rfc5424.Daemon | rfc5424.Error
	case CRITICAL:
		return rfc5424.Daemon | rfc5424.Crit
	default:
		return rfc5424.Daemon | rfc5424.Debug
	}
}

var ErrNotOpen = errors.New("ircdlog: logger is not open")

const DefaultID = "ircd@1"

// Logger is a single server-wide structured logger. It is safe for
// concurrent use from every session, channel actor, and S2S peer task.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.WriteCloser
	lvl      Level
	hostname string
	appname  string
	hot      bool
}

// New creates a Logger at INFO level writing to wtr.
func New(wtr io.WriteCloser) *Logger {
	host, _ := os.Hostname()
	l := &Logger{
		wtrs:     []io.WriteCloser{wtr},
		lvl:      INFO,
		hostname: host,
		appname:  "ircd",
		hot:      true,
	}
	return l
}

func NewDiscard() *Logger {
	return New(discardCloser{})
}

type discardCloser struct{}

func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardCloser) Close() error                { return nil }

func (l *Logger) SetLevel(lvl Level) { l.mtx.Lock(); l.lvl = lvl; l.mtx.Unlock() }
func (l *Logger) GetLevel() Level    { l.mtx.Lock(); defer l.mtx.Unlock(); return l.lvl }

func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("ircdlog: nil writer")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

func (l *Logger) Close() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.hot = false
	var err error
	for _, w := range l.wtrs {
		if cerr := w.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// KV builds one structured-data parameter. Use the Field helpers below
// (UID, Nick, Channel, SID, ErrField) for the common ircd keys so field
// names stay consistent across call sites.
func KV(name string, value interface{}) rfc5424.SDParam {
	if s, ok := value.(string); ok {
		return rfc5424.SDParam{Name: name, Value: s}
	}
	return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", value)}
}

func UID(v string) rfc5424.SDParam     { return KV("uid", v) }
func Nick(v string) rfc5424.SDParam    { return KV("nick", v) }
func Channel(v string) rfc5424.SDParam { return KV("channel", v) }
func SID(v string) rfc5424.SDParam     { return KV("sid", v) }
func ErrField(err error) rfc5424.SDParam {
	if err == nil {
		return KV("error", "")
	}
	return KV("error", err.Error())
}

func (l *Logger) Debugf(msg string, sds ...rfc5424.SDParam) { l.output(DEBUG, msg, sds...) }
func (l *Logger) Infof(msg string, sds ...rfc5424.SDParam)  { l.output(INFO, msg, sds...) }
func (l *Logger) Warnf(msg string, sds ...rfc5424.SDParam)  { l.output(WARN, msg, sds...) }
func (l *Logger) Errorf(msg string, sds ...rfc5424.SDParam) { l.output(ERROR, msg, sds...) }
func (l *Logger) Criticalf(msg string, sds ...rfc5424.SDParam) {
	l.output(CRITICAL, msg, sds...)
}

func (l *Logger) output(lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot || lvl < l.lvl || lvl == OFF {
		return
	}
	b, err := genRFCMessage(time.Now(), lvl.priority(), l.hostname, l.appname, msg, sds...)
	if err != nil {
		return
	}
	for _, w := range l.wtrs {
		_, _ = w.Write(b)
	}
}

func genRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msg string, sds ...rfc5424.SDParam) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trimLength(255, hostname),
		AppName:   trimLength(48, appname),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: DefaultID, Parameters: sds}}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func trimLength(n int, s string) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
