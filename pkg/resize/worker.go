package resize

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/pixelvault/pixelvault/pkg/transform"
)

// RunWorker is the subprocess entry point: it reads jobs from r, applies
// each transform in place, and writes replies to w. It returns when r
// reaches EOF (the pool closed our stdin) or on a protocol error.
//
// The image engine runs here, outside the server process, so decoder
// crashes and memory growth stay contained; the pool recycles workers
// periodically.
func RunWorker(r io.Reader, w io.Writer) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)

	for {
		var j job
		if err := dec.Decode(&j); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		length, err := Apply(j.Path, transform.Options{
			Still:  j.Still,
			Width:  j.Width,
			Height: j.Height,
		})

		rep := reply{ID: j.ID, Length: length}
		if err != nil {
			rep = reply{ID: j.ID, Error: err.Error()}
		}
		if err := enc.Encode(&rep); err != nil {
			return err
		}
	}
}
