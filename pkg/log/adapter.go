package log

import "github.com/sirupsen/logrus"

// BadgerAdapter implements the badger.Logger interface using logrus, so the
// catalog store's internal logging lands in the application log stream.
type BadgerAdapter struct {
	*logrus.Entry
}

// NewBadgerAdapter creates a new adapter around a contextual logrus entry.
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry}
}

func (l *BadgerAdapter) Errorf(f string, v ...interface{})   { l.Entry.Errorf(f, v...) }
func (l *BadgerAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }

// Badger's Infof output is chatty housekeeping detail, demote to debug.
func (l *BadgerAdapter) Infof(f string, v ...interface{})  { l.Entry.Debugf(f, v...) }
func (l *BadgerAdapter) Debugf(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }
