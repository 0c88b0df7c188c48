package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrProjectNotFound   = errors.New("directory: project not found")
	ErrUnauthorized      = errors.New("directory: UNAUTHORIZED")
	ErrZeroOwner         = errors.New("directory: owner must not be the zero address")
	ErrTokenNotAccepted  = errors.New("directory: TOKEN_NOT_ACCEPTED")
	ErrDuplicateTerminal = errors.New("directory: DUPLICATE_TERMINALS")
	errNilState          = errors.New("directory: state not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// directory.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TokenView reports which token a terminal accepts.
type TokenView interface {
	AcceptsToken(terminal, token common.Address) bool
}

var projectCountKey = []byte("directory/projects/count")

func ownerKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("directory/owner/%d", projectID))
}

func controllerKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("directory/controller/%d", projectID))
}

func terminalsKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("directory/terminals/%d", projectID))
}

func primaryKey(projectID uint64, token common.Address) []byte {
	return []byte(fmt.Sprintf("directory/primary/%d/%s", projectID, strings.ToLower(token.Hex())))
}

// Directory combines the project registry with the project to terminal and
// controller mapping.
type Directory struct {
	state  Storage
	tokens TokenView
}

// New constructs a directory bound to the provided storage.
func New(store Storage) *Directory {
	return &Directory{state: store}
}

// SetState wires the directory to the external persistence layer.
func (d *Directory) SetState(store Storage) { d.state = store }

// SetTokenView configures the lookup used to match terminals to tokens.
func (d *Directory) SetTokenView(view TokenView) { d.tokens = view }

// CreateFor registers a new project owned by owner. Identifiers start at 1.
func (d *Directory) CreateFor(owner common.Address) (uint64, error) {
	if d == nil || d.state == nil {
		return 0, errNilState
	}
	if owner == (common.Address{}) {
		return 0, ErrZeroOwner
	}
	var count uint64
	if _, err := d.state.KVGet(projectCountKey, &count); err != nil {
		return 0, err
	}
	count++
	if err := d.state.KVPut(projectCountKey, count); err != nil {
		return 0, err
	}
	if err := d.state.KVPut(ownerKey(count), owner); err != nil {
		return 0, err
	}
	return count, nil
}

// Count returns the number of registered projects.
func (d *Directory) Count() (uint64, error) {
	if d == nil || d.state == nil {
		return 0, errNilState
	}
	var count uint64
	_, err := d.state.KVGet(projectCountKey, &count)
	return count, err
}

// OwnerOf returns the owner of the project.
func (d *Directory) OwnerOf(projectID uint64) (common.Address, error) {
	if d == nil || d.state == nil {
		return common.Address{}, errNilState
	}
	var owner common.Address
	ok, err := d.state.KVGet(ownerKey(projectID), &owner)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	}
	return owner, nil
}

// TransferOwnership moves the project to a new owner. Only the current owner
// may transfer.
func (d *Directory) TransferOwnership(caller common.Address, projectID uint64, newOwner common.Address) error {
	owner, err := d.OwnerOf(projectID)
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrUnauthorized
	}
	if newOwner == (common.Address{}) {
		return ErrZeroOwner
	}
	return d.state.KVPut(ownerKey(projectID), newOwner)
}

// SetControllerOf records the controller allowed to mint and burn the
// project's tokens.
func (d *Directory) SetControllerOf(projectID uint64, controller common.Address) error {
	if _, err := d.OwnerOf(projectID); err != nil {
		return err
	}
	return d.state.KVPut(controllerKey(projectID), controller)
}

// ControllerOf returns the controller of the project, or the zero address.
func (d *Directory) ControllerOf(projectID uint64) (common.Address, error) {
	if d == nil || d.state == nil {
		return common.Address{}, errNilState
	}
	var controller common.Address
	if _, err := d.state.KVGet(controllerKey(projectID), &controller); err != nil {
		return common.Address{}, err
	}
	return controller, nil
}

// SetTerminalsOf replaces the terminal list of the project.
func (d *Directory) SetTerminalsOf(projectID uint64, terminals []common.Address) error {
	if _, err := d.OwnerOf(projectID); err != nil {
		return err
	}
	seen := make(map[common.Address]struct{}, len(terminals))
	for _, terminal := range terminals {
		if _, dup := seen[terminal]; dup {
			return ErrDuplicateTerminal
		}
		seen[terminal] = struct{}{}
	}
	return d.state.KVPut(terminalsKey(projectID), append([]common.Address(nil), terminals...))
}

// TerminalsOf returns the terminals of the project in registration order.
func (d *Directory) TerminalsOf(projectID uint64) ([]common.Address, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	var terminals []common.Address
	if _, err := d.state.KVGet(terminalsKey(projectID), &terminals); err != nil {
		return nil, err
	}
	return terminals, nil
}

// IsTerminalOf reports whether terminal is registered for the project.
func (d *Directory) IsTerminalOf(projectID uint64, terminal common.Address) (bool, error) {
	terminals, err := d.TerminalsOf(projectID)
	if err != nil {
		return false, err
	}
	for _, candidate := range terminals {
		if candidate == terminal {
			return true, nil
		}
	}
	return false, nil
}

// SetPrimaryTerminalOf marks terminal as the preferred destination of token
// for the project, adding it to the terminal list when missing.
func (d *Directory) SetPrimaryTerminalOf(projectID uint64, token, terminal common.Address) error {
	if d.tokens != nil && !d.tokens.AcceptsToken(terminal, token) {
		return ErrTokenNotAccepted
	}
	ok, err := d.IsTerminalOf(projectID, terminal)
	if err != nil {
		return err
	}
	if !ok {
		terminals, err := d.TerminalsOf(projectID)
		if err != nil {
			return err
		}
		if err := d.SetTerminalsOf(projectID, append(terminals, terminal)); err != nil {
			return err
		}
	}
	return d.state.KVPut(primaryKey(projectID, token), terminal)
}

// PrimaryTerminalOf returns the terminal that should receive token for the
// project. Without an explicit primary the first registered terminal that
// accepts the token is used. The zero address means none qualifies.
func (d *Directory) PrimaryTerminalOf(projectID uint64, token common.Address) (common.Address, error) {
	if d == nil || d.state == nil {
		return common.Address{}, errNilState
	}
	var primary common.Address
	ok, err := d.state.KVGet(primaryKey(projectID, token), &primary)
	if err != nil {
		return common.Address{}, err
	}
	if ok {
		registered, err := d.IsTerminalOf(projectID, primary)
		if err != nil {
			return common.Address{}, err
		}
		if registered {
			return primary, nil
		}
	}
	terminals, err := d.TerminalsOf(projectID)
	if err != nil {
		return common.Address{}, err
	}
	for _, terminal := range terminals {
		if d.tokens == nil || d.tokens.AcceptsToken(terminal, token) {
			return terminal, nil
		}
	}
	return common.Address{}, nil
}
