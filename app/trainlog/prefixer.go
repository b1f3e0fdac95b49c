package trainlog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const (
	prefixJobMaxLen    = 12
	prefixCutJobSuffix = "..."
)

// Prefixer is io.Writer adding a job prefix to each line, used to echo training output
type Prefixer struct {
	writer io.Writer
	prefix []byte
}

// NewPrefixer makes Prefixer writing lines as "{job} line"
func NewPrefixer(writer io.Writer, jobID string) *Prefixer {
	return &Prefixer{writer: writer, prefix: prefixForJob(jobID)}
}

func (p *Prefixer) Write(data []byte) (int, error) {
	reader := bufio.NewReader(bytes.NewReader(data))
	var written int
	for {
		line, err := reader.ReadBytes('\n')
		// the last chunk can come with io.EOF and still has to be written
		if err != nil && err != io.EOF {
			return written, err
		}
		if len(line) > 0 {
			if _, werr := p.writer.Write(p.prefix); werr != nil {
				return written, werr
			}
			n, werr := p.writer.Write(line)
			written += n
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
	}
}

func prefixForJob(jobID string) []byte {
	if len(jobID) > prefixJobMaxLen {
		jobID = jobID[:prefixJobMaxLen] + prefixCutJobSuffix
	}
	return fmt.Appendf(nil, "{%s} ", jobID)
}
