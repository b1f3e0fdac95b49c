// Package trainlog interprets raw log lines of a training job. It keeps a bounded display buffer
// and extracts train/validation loss curves and the adapter save directory.
package trainlog

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// LossPoint is a single loss observation
type LossPoint struct {
	Iteration int     `json:"iteration"`
	Loss      float64 `json:"loss"`
}

// Metrics is a copy of everything the interpreter derived so far
type Metrics struct {
	Train            []LossPoint `json:"train"`
	Val              []LossPoint `json:"val"`
	CurrentIteration int         `json:"current_iteration"`
	AdapterPath      string      `json:"adapter_path,omitempty"`
	Lines            []string    `json:"lines,omitempty"`
}

// FinalLoss returns the last train loss, false if nothing recorded
func (m Metrics) FinalLoss() (float64, bool) {
	if len(m.Train) == 0 {
		return 0, false
	}
	return m.Train[len(m.Train)-1].Loss, true
}

const floatRe = `([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?|nan|inf)`

var (
	// Iter 10: Train loss 2.345, Learning Rate 1.000e-05, It/sec 0.52, ...
	reTrainLoss = regexp.MustCompile(`(?i)\biter\s+(\d+)\s*:\s*train loss\s+` + floatRe)
	// Iter 10: Val loss 2.101, Val took 3.2s
	reValLoss = regexp.MustCompile(`(?i)\biter\s+(\d+)\s*:\s*val(?:idation)? loss\s+` + floatRe)
	// Iter 100: Saved adapter weights to a/adapters.safetensors and a/0000100_adapters.safetensors.
	reSaved = regexp.MustCompile(`(?i)\bsaved\s+(?:[\w-]+\s+){0,3}to\s+(.+)$`)
)

// Interpreter parses training log lines. Thread safe.
type Interpreter struct {
	mu        sync.Mutex
	buf       *Buffer
	train     []LossPoint
	val       []LossPoint
	iteration int
	adapter   string
	echo      io.Writer
}

// New makes Interpreter with a display buffer of given capacity
func New(capacity int) *Interpreter {
	return &Interpreter{buf: NewBuffer(capacity)}
}

// SetEcho sets a writer receiving every fed line, nil disables echo
func (in *Interpreter) SetEcho(w io.Writer) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.echo = w
}

// Feed appends the line to the buffer and extracts metrics from it
func (in *Interpreter) Feed(line string) {
	line = strings.TrimRight(line, "\r\n")
	in.buf.Append(line)

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.echo != nil {
		_, _ = io.WriteString(in.echo, line+"\n")
	}

	if it, loss, ok := matchLoss(reTrainLoss, line); ok {
		in.train = append(in.train, LossPoint{Iteration: it, Loss: loss})
		in.iteration = it
		return
	}
	if it, loss, ok := matchLoss(reValLoss, line); ok {
		in.val = append(in.val, LossPoint{Iteration: it, Loss: loss})
		return
	}
	if m := reSaved.FindStringSubmatch(line); m != nil {
		if p := ExtractAdapterPath(m[1]); p != "" {
			in.adapter = p
		}
	}
}

// Reset clears loss series, buffer, adapter path and current iteration
func (in *Interpreter) Reset() {
	in.buf.Reset()
	in.mu.Lock()
	defer in.mu.Unlock()
	in.train, in.val = nil, nil
	in.iteration = 0
	in.adapter = ""
}

// Snapshot returns a copy of the derived state with buffered log lines
func (in *Interpreter) Snapshot() Metrics {
	in.mu.Lock()
	res := Metrics{
		Train:            append([]LossPoint{}, in.train...),
		Val:              append([]LossPoint{}, in.val...),
		CurrentIteration: in.iteration,
		AdapterPath:      in.adapter,
	}
	in.mu.Unlock()
	res.Lines = in.buf.Lines()
	return res
}

// ExtractAdapterPath takes the first of " and "-joined paths, drops a trailing period and
// truncates a file path to its parent directory
func ExtractAdapterPath(s string) string {
	p, _, _ := strings.Cut(s, " and ")
	p = strings.TrimSpace(p)
	p = strings.TrimSuffix(p, ".")
	p = strings.TrimSpace(p)

	sep := strings.LastIndexAny(p, `/\`)
	base := p[sep+1:]
	if dot := strings.LastIndex(base, "."); dot > 0 && dot < len(base)-1 && sep >= 0 {
		return p[:sep]
	}
	return p
}

func matchLoss(re *regexp.Regexp, line string) (iteration int, loss float64, ok bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	it, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, false
	}
	return it, v, true
}
