package resize

// The pool and its worker subprocesses speak newline-delimited JSON over
// the worker's stdin/stdout: one job object per line in, one reply per
// line out, matched by ID. Workers process jobs strictly one at a time.

type job struct {
	ID     uint64 `json:"id"`
	Path   string `json:"path"`
	Still  bool   `json:"still,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type reply struct {
	ID     uint64 `json:"id"`
	Length int64  `json:"length,omitempty"`
	Error  string `json:"error,omitempty"`
}
