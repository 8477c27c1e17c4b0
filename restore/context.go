package restore

import (
	"github.com/meigma/duprestore/volume"
)

// Context is the per-worker scratch state for the file pass: two
// reusable byte buffers (content blocks and block-list payloads) and the
// worker's private archive clones. Reusing them keeps the steady state
// free of per-block allocations.
//
// A Context belongs to exactly one worker goroutine and must not be
// shared.
type Context struct {
	block  []byte
	hashes []byte
	clones map[string]*volume.Volume
}

// NewContext creates an empty worker context.
func NewContext() *Context {
	return &Context{
		clones: make(map[string]*volume.Volume),
	}
}

// clone returns this worker's private handle for the archive, cloning
// the registry handle on first use. The clone shares the archive's
// parsed directory but owns its own descriptor, so workers never
// serialise on a file position.
func (c *Context) clone(v *volume.Volume) (*volume.Volume, error) {
	if cl, ok := c.clones[v.Path()]; ok {
		return cl, nil
	}
	cl, err := v.Clone()
	if err != nil {
		return nil, err
	}
	c.clones[v.Path()] = cl
	return cl, nil
}

// Close releases the worker's archive clones.
func (c *Context) Close() error {
	var firstErr error
	for _, cl := range c.clones {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	clear(c.clones)
	return firstErr
}
