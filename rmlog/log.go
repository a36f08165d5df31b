// Package rmlog is the record manager's diagnostic logger: a thin
// package-level wrapper over a single logrus.Logger, tagging entries with
// the file/page/slot coordinates page and chain operations report.
package rmlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// L is the package-level logger. It defaults to info level on stderr and
// can be replaced wholesale by Configure for tests or embedding
// applications that want their own sink.
var L = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// Configure replaces the package logger's level and output.
func Configure(level logrus.Level, out interface{ Write([]byte) (int, error) }) {
	L.SetLevel(level)
	if out != nil {
		L.SetOutput(out)
	}
}

// Page returns a logging entry tagged with a file id and page number,
// the two coordinates almost every record-manager log line needs.
func Page(fileID string, pageNum int32) *logrus.Entry {
	return L.WithFields(logrus.Fields{
		"file_id":  fileID,
		"page_num": pageNum,
	})
}

// RID returns a logging entry tagged with a file id, page number and slot,
// used for record-granularity operations (insert/update/delete/get).
func RID(fileID string, pageNum, slotNum int32) *logrus.Entry {
	return L.WithFields(logrus.Fields{
		"file_id":  fileID,
		"page_num": pageNum,
		"slot_num": slotNum,
	})
}
