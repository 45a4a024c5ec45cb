package executor

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// LogWriter is an interface for writing process logs.
// Some implementations support colorization.
type LogWriter interface {
	io.Writer
	Printf(format string, v ...any)
	WithTag(tag string) LogWriter
}

// Logs is a struct that contains LogWriters for the main info, process stdout and process stderr.
type Logs struct {
	Info LogWriter
	Out  LogWriter
	Err  LogWriter
}

// WithTag creates a new Logs with the given tag for each LogWriter.
func (l Logs) WithTag(tag string) Logs {
	return Logs{Info: l.Info.WithTag(tag), Out: l.Out.WithTag(tag), Err: l.Err.WithTag(tag)}
}

// colorizedWriter is a writer that colorizes the output based on the tag.
// Writers made from the same parent share the lock, so lines of concurrent processes don't interleave.
type colorizedWriter struct {
	wr         io.Writer
	prefix     string
	tag        string
	monochrome bool
	lock       *sync.Mutex
}

// WithTag creates a new colorizedWriter with the given tag.
func (s *colorizedWriter) WithTag(tag string) LogWriter {
	return &colorizedWriter{wr: s.wr, tag: tag, prefix: s.prefix, monochrome: s.monochrome, lock: s.lock}
}

// Printf writes the given text to io.Writer with the colorized tag prefix.
func (s *colorizedWriter) Printf(format string, v ...any) {
	fmt.Fprintf(s, format, v...)
}

// Write writes the given byte slice with the colorized tag prefix for each line.
// If the input does not end with a newline, one is added.
func (s *colorizedWriter) Write(p []byte) (n int, err error) {
	colorizer := s.tagColorizer(s.tag)
	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	s.lock.Lock()
	defer s.lock.Unlock()
	for scanner.Scan() {
		line := fmt.Sprintf("[%s] %s", s.tag, scanner.Text())
		if s.prefix != "" {
			line = fmt.Sprintf("[%s] %s %s", s.tag, s.prefix, scanner.Text())
		}
		if _, err = io.WriteString(s.wr, colorizer("%s\n", line)); err != nil {
			return 0, err
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// tagColorizer returns a function that formats a string with a color based on the tag.
func (s *colorizedWriter) tagColorizer(tag string) func(format string, a ...any) string {
	colors := []color.Attribute{
		color.FgHiGreen, color.FgHiYellow, color.FgHiBlue,
		color.FgHiMagenta, color.FgHiCyan, color.FgGreen,
		color.FgYellow, color.FgBlue, color.FgMagenta, color.FgCyan,
	}
	c := colors[int(crc32.ChecksumIEEE([]byte(tag)))%len(colors)]
	if s.monochrome {
		c = color.Reset
	}
	return color.New(c).SprintfFunc()
}

// MakeLogs creates a set of loggers for process stdout and stderr and a logger for the main info.
// If verbose is true, process stdout and stderr go to os.Stdout colorized, otherwise to the std logger
// as DEBUG and WARN. infoLog always goes to os.Stdout and used to report the commands being executed.
func MakeLogs(verbose, monochrome bool) Logs {
	lock := &sync.Mutex{}
	var outLog, errLog LogWriter
	infoLog := &colorizedWriter{wr: os.Stdout, prefix: "", monochrome: monochrome, lock: lock}
	outLog = &stdOutLogWriter{prefix: " >", level: "DEBUG"}
	errLog = &stdOutLogWriter{prefix: " !", level: "WARN"}
	if verbose {
		outLog = &colorizedWriter{wr: os.Stdout, prefix: " >", monochrome: monochrome, lock: lock}
		errLog = &colorizedWriter{wr: os.Stdout, prefix: " !", monochrome: monochrome, lock: lock}
	}
	return Logs{Info: infoLog, Out: outLog, Err: errLog}
}

// stdOutLogWriter is a writer that writes to log with a prefix and a log level.
type stdOutLogWriter struct {
	prefix string
	level  string
	tag    string
}

func (w *stdOutLogWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		log.Printf("[%s] %s", w.level, w.format(line))
	}
	return len(p), nil
}

// Printf writes the given text to log with the prefix and log level.
func (w *stdOutLogWriter) Printf(format string, v ...any) {
	log.Printf("[%s] %s", w.level, w.format(fmt.Sprintf(format, v...)))
}

func (w *stdOutLogWriter) format(line string) string {
	if w.tag == "" {
		return w.prefix + " " + line
	}
	return "{" + w.tag + "}" + w.prefix + " " + line
}

// WithTag creates a new stdOutLogWriter with the given tag.
func (w *stdOutLogWriter) WithTag(tag string) LogWriter {
	return &stdOutLogWriter{prefix: w.prefix, level: w.level, tag: tag}
}
