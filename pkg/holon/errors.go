package holon

import "errors"

var (
	// ErrActionNotFound is returned when dispatching an unregistered action name.
	ErrActionNotFound = errors.New("action not found")
	// ErrTemplateNotFound is returned when create_child references a template
	// id that does not resolve within the tree.
	ErrTemplateNotFound = errors.New("template holon not found")
	// ErrChildNotFound is returned by child-scoped operations for unknown ids.
	ErrChildNotFound = errors.New("child holon not found")
	// ErrInvalidParams is returned when action parameters fail to bind.
	ErrInvalidParams = errors.New("invalid action parameters")
)
