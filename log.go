package evreactor

import (
	"fmt"
	"os"
	"path"
	"sync"
	"syscall"
	"time"
)

// lastLog is the most recently constructed Log, used by the package-level
// convenience functions below so callers that only ever need one Log
// don't have to thread a *Log through every call site.
var lastLog *Log

func Debug(format string, v ...any)   { lastLog.debugL.write(format, v...) }
func Info(format string, v ...any)    { lastLog.infoL.write(format, v...) }
func Warning(format string, v ...any) { lastLog.warningL.write(format, v...) }
func LogError(format string, v ...any) { lastLog.errorL.write(format, v...) }

// Log is a small leveled logger. With dir == "" every level writes to
// stderr; otherwise each level gets its own file under dir, rotated
// daily on first write after midnight.
type Log struct {
	noCopy

	debugL   log
	infoL    log
	warningL log
	errorL   log
}

// NewLog creates a Log. Output goes to stderr if dir == "".
func NewLog(dir string) (*Log, error) {
	l := &Log{
		debugL:   log{dir: dir, name: "debug", fd: -1},
		infoL:    log{dir: dir, name: "info", fd: -1},
		warningL: log{dir: dir, name: "warning", fd: -1},
		errorL:   log{dir: dir, name: "error", fd: -1},
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("evreactor: NewLog mkdir: %w", err)
		}
	}
	lastLog = l
	return l, nil
}

func (l *Log) Debug(format string, v ...any)   { l.debugL.write(format, v...) }
func (l *Log) Info(format string, v ...any)    { l.infoL.write(format, v...) }
func (l *Log) Warning(format string, v ...any) { l.warningL.write(format, v...) }
func (l *Log) Error(format string, v ...any)   { l.errorL.write(format, v...) }

// Fatal logs at error level, then panics. This is the Go rendition of
// the original C reactor's EV_VERIFY: a steady-state syscall failure
// that leaves internal state unreconcilable is not something a caller
// can recover from.
func (l *Log) Fatal(format string, v ...any) {
	l.errorL.write(format, v...)
	panic(fmt.Sprintf(format, v...))
}

// implementation shared by all four levels
type log struct {
	newFileYear  int
	newFileMonth int
	newFileDay   int
	fd           int
	dir          string
	name         string
	buff         []byte

	mtx sync.Mutex
}

func (l *log) newFile(year, month, day int) error {
	if l.newFileYear != year || l.newFileMonth != month || l.newFileDay != day {
		l.close()
		if err := l.open(year, month, day); err != nil {
			return err
		}
	}
	return nil
}

func (l *log) open(year, month, day int) (err error) {
	if l.dir == "" {
		l.fd = 2 // stderr
	} else {
		fname := fmt.Sprintf("%s-%d-%02d-%02d.log", l.name, year, month, day)
		logFile := path.Join(l.dir, fname)
		l.fd, err = syscall.Open(logFile, syscall.O_CREAT|syscall.O_WRONLY|syscall.O_APPEND, 0644)
		if err != nil {
			return err
		}
	}
	l.newFileYear, l.newFileMonth, l.newFileDay = year, month, day
	l.buff = make([]byte, 0, 512)
	return nil
}

func (l *log) close() {
	if l.dir != "" && l.fd != -1 {
		syscall.Close(l.fd)
		l.fd = -1
	}
}

func (l *log) write(format string, v ...any) {
	now := time.Now()
	year, month, day := now.Date()

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.newFile(year, int(month), day); err != nil {
		return
	}
	if l.fd == -1 {
		return
	}

	l.buff = l.buff[:0]
	l.itoa(year, 4)
	l.buff = append(l.buff, '-')
	l.itoa(int(month), 2)
	l.buff = append(l.buff, '-')
	l.itoa(day, 2)
	l.buff = append(l.buff, ' ')

	hour, min, sec := now.Clock()
	l.itoa(hour, 2)
	l.buff = append(l.buff, ':')
	l.itoa(min, 2)
	l.buff = append(l.buff, ':')
	l.itoa(sec, 2)
	l.buff = append(l.buff, '.')
	l.itoa(now.Nanosecond()/1e6, 3)
	l.buff = append(l.buff, ' ', '[')
	l.buff = append(l.buff, l.name...)
	l.buff = append(l.buff, ']', ' ')

	l.buff = fmt.Appendf(l.buff, format, v...)
	l.buff = append(l.buff, '\n')

	for {
		_, err := syscall.Write(l.fd, l.buff)
		if err == syscall.EINTR {
			continue
		}
		break
	}
}

// itoa appends i, left-padded with zeros to width wid, to l.buff.
func (l *log) itoa(i, wid int) {
	var b [8]byte
	bp := len(b) - 1
	for i >= 10 || wid > 1 {
		wid--
		q := i / 10
		b[bp] = byte('0' + i - q*10)
		bp--
		i = q
	}
	b[bp] = byte('0' + i)
	l.buff = append(l.buff, b[bp:]...)
}
