package gpio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/config"
)

// shutdownConfirmWindow bounds the readback that confirms an emergency
// output cut.
const shutdownConfirmWindow = 200 * time.Millisecond

// errShutdownUnconfirmed is returned when the outputs do not read back low
// within the confirm window. The caller treats this as fatal: an output
// stuck high is the one failure this device must not run through.
var errShutdownUnconfirmed = errors.New("emergency shutdown not confirmed: output still high")

// Sysfs drives GPIO pins through the kernel sysfs interface. The root is
// configurable so tests can point it at a fake tree.
type Sysfs struct {
	root string
	cfg  config.GPIOConfig

	mu         sync.Mutex
	siren      bool
	floodlight bool
}

// NewSysfs exports and configures the pins. Both outputs are forced low
// before the controller reports ready; a backend that cannot guarantee
// silent outputs must not come up at all.
func NewSysfs(cfg config.GPIOConfig) (*Sysfs, error) {
	s := &Sysfs{root: cfg.Root, cfg: cfg}

	if err := s.setupPin(cfg.DoorPin, "in"); err != nil {
		return nil, fmt.Errorf("setup door pin: %w", err)
	}

	if err := s.setupPin(cfg.SirenPin, "out"); err != nil {
		return nil, fmt.Errorf("setup siren pin: %w", err)
	}

	if err := s.setupPin(cfg.FloodlightPin, "out"); err != nil {
		return nil, fmt.Errorf("setup floodlight pin: %w", err)
	}

	if err := s.writePin(cfg.SirenPin, false); err != nil {
		return nil, fmt.Errorf("silence siren at boot: %w", err)
	}

	if err := s.writePin(cfg.FloodlightPin, false); err != nil {
		return nil, fmt.Errorf("silence floodlight at boot: %w", err)
	}

	return s, nil
}

// setupPin exports the pin when needed and sets its direction.
func (s *Sysfs) setupPin(pin int, direction string) error {
	pinDir := s.pinDir(pin)

	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		exportPath := filepath.Join(s.root, "export")
		if writeErr := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), config.DefaultFilePermissions); writeErr != nil {
			return fmt.Errorf("export pin %d: %w", pin, writeErr)
		}
	}

	directionPath := filepath.Join(pinDir, "direction")
	if err := os.WriteFile(directionPath, []byte(direction), config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("set pin %d direction: %w", pin, err)
	}

	return nil
}

// ReadDoorSensor reads the door input, honoring the active-low wiring.
func (s *Sysfs) ReadDoorSensor(_ context.Context) (bool, error) {
	high, err := s.readPin(s.cfg.DoorPin)
	if err != nil {
		return false, err
	}

	return high != s.cfg.DoorActiveLow, nil
}

// SetSiren drives the siren relay.
func (s *Sysfs) SetSiren(_ context.Context, on bool) error {
	if err := s.writePin(s.cfg.SirenPin, on); err != nil {
		return err
	}

	s.mu.Lock()
	s.siren = on
	s.mu.Unlock()

	return nil
}

// SetFloodlight drives the floodlight relay.
func (s *Sysfs) SetFloodlight(_ context.Context, on bool) error {
	if err := s.writePin(s.cfg.FloodlightPin, on); err != nil {
		return err
	}

	s.mu.Lock()
	s.floodlight = on
	s.mu.Unlock()

	return nil
}

// SirenState reports the last commanded siren level.
func (s *Sysfs) SirenState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.siren
}

// FloodlightState reports the last commanded floodlight level.
func (s *Sysfs) FloodlightState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.floodlight
}

// EmergencyShutdown forces both outputs low and confirms the cut by
// reading the pin levels back within the confirm window.
func (s *Sysfs) EmergencyShutdown() error {
	sirenErr := s.writePin(s.cfg.SirenPin, false)
	floodErr := s.writePin(s.cfg.FloodlightPin, false)

	s.mu.Lock()
	s.siren = false
	s.floodlight = false
	s.mu.Unlock()

	if sirenErr != nil || floodErr != nil {
		return errors.Join(sirenErr, floodErr)
	}

	deadline := time.Now().Add(shutdownConfirmWindow)

	for {
		sirenHigh, err1 := s.readPin(s.cfg.SirenPin)
		floodHigh, err2 := s.readPin(s.cfg.FloodlightPin)

		if err1 == nil && err2 == nil && !sirenHigh && !floodHigh {
			return nil
		}

		if time.Now().After(deadline) {
			return errShutdownUnconfirmed
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// Close unexports the pins. Unexport failures are not actionable.
func (s *Sysfs) Close() error {
	unexportPath := filepath.Join(s.root, "unexport")

	for _, pin := range []int{s.cfg.DoorPin, s.cfg.SirenPin, s.cfg.FloodlightPin} {
		_ = os.WriteFile(unexportPath, []byte(strconv.Itoa(pin)), config.DefaultFilePermissions)
	}

	return nil
}

// pinDir returns the sysfs directory of a pin.
func (s *Sysfs) pinDir(pin int) string {
	return filepath.Join(s.root, "gpio"+strconv.Itoa(pin))
}

// readPin reads a pin level: true is high.
func (s *Sysfs) readPin(pin int) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.pinDir(pin), "value"))
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}

	return strings.TrimSpace(string(raw)) == "1", nil
}

// writePin writes a pin level.
func (s *Sysfs) writePin(pin int, high bool) error {
	value := "0"
	if high {
		value = "1"
	}

	if err := os.WriteFile(filepath.Join(s.pinDir(pin), "value"), []byte(value), config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}

	return nil
}
