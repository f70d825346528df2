package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/lowaak/bike-computer/internal/go_func_utils"
)

const (
	knotsToMetersPerSecond = 0.514444
	// DefaultMaxFixAge is how old a fix may be and still be returned
	// without waiting for the next sentence.
	DefaultMaxFixAge = 2 * time.Second
)

// NMEASource reads NMEA 0183 sentences from a GPS receiver and serves the
// latest fix. Position comes from RMC and GGA, altitude from GGA and course
// and speed from RMC.
type NMEASource struct {
	logger *log.Logger
	now    func() time.Time
	maxAge time.Duration
	closer io.Closer

	mu      sync.Mutex
	fix     Position
	hasFix  bool
	updated chan struct{}
	readErr error
	skipped int

	wg sync.WaitGroup
}

var _ PositionSource = (*NMEASource)(nil)

// OpenNMEASource opens a serial GPS receiver.
func OpenNMEASource(portName string, baudRate int, logger *log.Logger) (*NMEASource, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, classifySerialError(portName, err)
	}
	logger.Printf("NMEASource: opened %s at %d baud", portName, baudRate)
	return NewNMEASource(port, logger), nil
}

func classifySerialError(portName string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %s: %v", ErrNotEnabled, portName, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, portName, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnknown, portName, err)
}

// NewNMEASource starts reading sentences from r until it is exhausted or Close is called.
func NewNMEASource(r io.ReadCloser, logger *log.Logger) *NMEASource {
	if r == nil {
		panic("NMEASource: reader cannot be nil")
	}
	if logger == nil {
		panic("NMEASource: logger cannot be nil")
	}
	s := &NMEASource{
		logger:  logger,
		now:     time.Now,
		maxAge:  DefaultMaxFixAge,
		closer:  r,
		updated: make(chan struct{}),
	}
	go_func_utils.SafeGoWG(logger, &s.wg, func() { s.readLoop(r) })
	return s
}

// CurrentPosition returns the latest fix if it is fresh, otherwise waits for
// the next one.
func (s *NMEASource) CurrentPosition(ctx context.Context) (Position, error) {
	for {
		s.mu.Lock()
		if s.hasFix && s.now().Sub(s.fix.Time) <= s.maxAge {
			fix := s.fix
			s.mu.Unlock()
			return fix, nil
		}
		if s.readErr != nil {
			err := s.readErr
			s.mu.Unlock()
			return Position{}, fmt.Errorf("%w: receiver stopped: %v", ErrUnknown, err)
		}
		updated := s.updated
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Position{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-updated:
		}
	}
}

// Close stops the reader and releases the port.
func (s *NMEASource) Close() error {
	err := s.closer.Close()
	s.wg.Wait()
	return err
}

func (s *NMEASource) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			s.mu.Lock()
			s.skipped++
			skipped := s.skipped
			s.mu.Unlock()
			if skipped == 1 || skipped%100 == 0 {
				s.logger.Printf("NMEASource: skipping sentence (%d so far): %v", skipped, err)
			}
			continue
		}
		s.apply(sentence)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.readErr = err
	close(s.updated)
	s.mu.Unlock()
	s.logger.Printf("NMEASource: reader stopped: %v", err)
}

func (s *NMEASource) apply(sentence nmea.Sentence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fix := s.fix
	switch v := sentence.(type) {
	case nmea.RMC:
		if v.Validity != nmea.ValidRMC {
			return
		}
		fix.Latitude, fix.Longitude = v.Latitude, v.Longitude
		fix.Course, fix.HasCourse = v.Course, true
		fix.Speed = v.Speed * knotsToMetersPerSecond
	case nmea.GGA:
		if v.FixQuality == nmea.Invalid {
			return
		}
		fix.Latitude, fix.Longitude = v.Latitude, v.Longitude
		fix.Altitude, fix.HasAltitude = v.Altitude, true
	default:
		return
	}
	fix.Time = s.now()
	s.fix = fix
	s.hasFix = true

	close(s.updated)
	s.updated = make(chan struct{})
}
