package executor

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdOutLogWriter(t *testing.T) {
	tests := []struct {
		name          string
		prefix        string
		level         string
		tag           string
		input         string
		expectedLines []string
	}{
		{
			name:   "basic test",
			prefix: "PREFIX",
			level:  "INFO",
			input:  "Hello\nWorld\n",
			expectedLines: []string{
				"[INFO] PREFIX Hello",
				"[INFO] PREFIX World",
			},
		},
		{
			name:   "with tag",
			prefix: " >",
			level:  "DEBUG",
			tag:    "sqlite3.c",
			input:  "warning: unused\n",
			expectedLines: []string{
				"[DEBUG] {sqlite3.c} > warning: unused",
			},
		},
		{
			name:          "empty input",
			prefix:        "PREFIX",
			level:         "INFO",
			input:         "",
			expectedLines: []string{},
		},
		{
			name:   "trailing empty line",
			prefix: "PREFIX",
			level:  "WARN",
			input:  "Hello\nWorld\n\n",
			expectedLines: []string{
				"[WARN] PREFIX Hello",
				"[WARN] PREFIX World",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			log.SetFlags(0)
			defer log.SetOutput(os.Stderr)

			writer := &stdOutLogWriter{prefix: tc.prefix, level: tc.level, tag: tc.tag}
			n, err := writer.Write([]byte(tc.input))
			assert.NoError(t, err)
			assert.Equal(t, len(tc.input), n)

			lines := []string{}
			if buf.Len() > 0 {
				lines = strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
			}
			assert.Equal(t, tc.expectedLines, lines)
		})
	}
}

func TestColorizedWriter(t *testing.T) {
	testCases := []struct {
		name          string
		prefix        string
		tag           string
		withTag       string
		input         string
		expectedLines []string
	}{
		{
			name:   "with prefix",
			prefix: ">",
			tag:    "sqlite3.c",
			input:  "This is a test message\nThis is another test message",
			expectedLines: []string{
				"[sqlite3.c] > This is a test message",
				"[sqlite3.c] > This is another test message",
			},
		},
		{
			name:  "without prefix",
			tag:   "link",
			input: "emcc -o out/sql-wasm.js\n",
			expectedLines: []string{
				"[link] emcc -o out/sql-wasm.js",
			},
		},
		{
			name:    "retagged",
			tag:     "link",
			withTag: "extension-functions.c",
			input:   "line",
			expectedLines: []string{
				"[extension-functions.c] line",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buffer := bytes.NewBuffer([]byte{})
			var writer LogWriter = &colorizedWriter{wr: buffer, prefix: tc.prefix, tag: tc.tag,
				monochrome: true, lock: &sync.Mutex{}}
			if tc.withTag != "" {
				writer = writer.WithTag(tc.withTag)
			}
			_, err := writer.Write([]byte(tc.input))
			require.NoError(t, err)

			scanner := bufio.NewScanner(buffer)
			lineIndex := 0
			for scanner.Scan() {
				require.Less(t, lineIndex, len(tc.expectedLines))
				assert.Contains(t, scanner.Text(), tc.expectedLines[lineIndex])
				lineIndex++
			}
			assert.NoError(t, scanner.Err())
			assert.Equal(t, len(tc.expectedLines), lineIndex)
		})
	}
}

func TestMakeLogs(t *testing.T) {
	t.Run("verbose", func(t *testing.T) {
		out := captureStdOut(t, func() {
			logs := MakeLogs(true, true).WithTag("sqlite3.c")
			logs.Out.Printf("Hello, out!")
			logs.Err.Printf("Hello, err!")
		})
		assert.Contains(t, out, "[sqlite3.c]  > Hello, out!")
		assert.Contains(t, out, "[sqlite3.c]  ! Hello, err!")
	})

	t.Run("not verbose", func(t *testing.T) {
		var logBuf bytes.Buffer
		log.SetOutput(&logBuf)
		defer log.SetOutput(os.Stderr)
		out := captureStdOut(t, func() {
			logs := MakeLogs(false, true).WithTag("sqlite3.c")
			logs.Out.Printf("Hello, out!")
			logs.Err.Printf("Hello, err!")
		})
		assert.NotContains(t, out, "Hello")
		assert.Contains(t, logBuf.String(), "[DEBUG] {sqlite3.c} > Hello, out!")
		assert.Contains(t, logBuf.String(), "[WARN] {sqlite3.c} ! Hello, err!")
	})
}

func captureStdOut(t *testing.T, f func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&out, r)
		close(done)
	}()

	f()
	os.Stdout = old
	require.NoError(t, w.Close())
	<-done
	return out.String()
}
