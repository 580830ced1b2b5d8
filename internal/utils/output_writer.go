package utils

import (
	"fmt"
	"io"
	"sync"
)

// OutputWriter serializes command output lines. Migration handlers may report
// from several workers at once, so every line is written under one lock and
// flushed immediately when the destination buffers.
type OutputWriter struct {
	destination io.Writer
	mutex       sync.Mutex
	lineCount   int
}

// NewOutputWriter wraps destination. A nil destination discards output.
func NewOutputWriter(destination io.Writer) *OutputWriter {
	if existing, alreadyWrapped := destination.(*OutputWriter); alreadyWrapped {
		return existing
	}
	if destination == nil {
		destination = io.Discard
	}
	return &OutputWriter{destination: destination}
}

// Write delegates to the destination and flushes it when possible.
func (outputWriter *OutputWriter) Write(data []byte) (int, error) {
	outputWriter.mutex.Lock()
	defer outputWriter.mutex.Unlock()
	return outputWriter.writeLocked(data)
}

// Printf formats and writes one line of output. Write failures are dropped.
func (outputWriter *OutputWriter) Printf(format string, arguments ...any) {
	outputWriter.mutex.Lock()
	defer outputWriter.mutex.Unlock()
	if _, writeError := outputWriter.writeLocked([]byte(fmt.Sprintf(format, arguments...))); writeError == nil {
		outputWriter.lineCount++
	}
}

// Lines reports how many Printf calls reached the destination.
func (outputWriter *OutputWriter) Lines() int {
	outputWriter.mutex.Lock()
	defer outputWriter.mutex.Unlock()
	return outputWriter.lineCount
}

func (outputWriter *OutputWriter) writeLocked(data []byte) (int, error) {
	bytesWritten, writeError := outputWriter.destination.Write(data)
	if writeError != nil {
		return bytesWritten, writeError
	}
	if flushableWriter, implementsFlush := outputWriter.destination.(interface{ Flush() error }); implementsFlush {
		if flushError := flushableWriter.Flush(); flushError != nil {
			return bytesWritten, flushError
		}
	}
	return bytesWritten, nil
}
