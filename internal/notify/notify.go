// Package notify reports conversion outcomes to operators. Delivery is
// fire-and-forget and never changes the outcome reported to the uploader.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spewite/score-to-midi/internal/scoreerr"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DefaultTimeout bounds one dispatch across all notifiers.
const DefaultTimeout = 30 * time.Second

// Event describes one finished conversion.
type Event struct {
	Token        string        `json:"token"`
	Status       string        `json:"status"`
	Filename     string        `json:"filename"`
	MIDIFilename string        `json:"midi_filename,omitempty"`
	Kind         scoreerr.Kind `json:"kind,omitempty"`
	Message      string        `json:"message,omitempty"`
	UploadPath   string        `json:"-"`
	Time         time.Time     `json:"time"`
}

// Succeeded builds the event for a finished conversion.
func Succeeded(token, filename, midiFilename, uploadPath string) Event {
	return Event{
		Token:        token,
		Status:       StatusSucceeded,
		Filename:     filename,
		MIDIFilename: midiFilename,
		UploadPath:   uploadPath,
		Time:         time.Now().UTC(),
	}
}

// Failed builds the event for a failed conversion. Message keeps the full
// error text for operators, unlike the uploader-facing message.
func Failed(token, filename, uploadPath string, err error) Event {
	return Event{
		Token:      token,
		Status:     StatusFailed,
		Filename:   filename,
		Kind:       scoreerr.KindOf(err),
		Message:    err.Error(),
		UploadPath: uploadPath,
		Time:       time.Now().UTC(),
	}
}

// Notifier delivers one event.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the standard logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Status == StatusSucceeded {
		log.Printf("[%s] Notification: %s converted to %s", ev.Token, ev.Filename, ev.MIDIFilename)
		return nil
	}
	log.Printf("[%s] Notification: %s failed (%s): %s", ev.Token, ev.Filename, ev.Kind, ev.Message)
	return nil
}

// Dispatcher fans events out to every notifier in the background.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher returns a dispatcher. A zero timeout selects DefaultTimeout.
func NewDispatcher(timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout}
}

// Dispatch delivers ev asynchronously and returns immediately. One failing
// notifier does not stop the others.
func (d *Dispatcher) Dispatch(ev Event) {
	if len(d.notifiers) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Deliver(context.Background(), ev); err != nil {
			log.Printf("[%s] Notification incomplete: %v", ev.Token, err)
		}
	}()
}

// Deliver sends ev to every notifier and waits. It returns the first failure.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, n := range d.notifiers {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("notifier %T panicked: %v", n, r)
				}
				if err != nil {
					log.Printf("[%s] Notifier %T failed: %v", ev.Token, n, err)
				}
			}()
			return n.Notify(ctx, ev)
		})
	}
	return g.Wait()
}

// Wait blocks until every dispatched event has been delivered or abandoned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
