// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var headerTerminator = []byte("\r\n\r\n")

// maxEmptyReads bounds consecutive reads returning no data and no error.
const maxEmptyReads = 16

// NewHeaderScanner returns a new [*HeaderScanner].
func NewHeaderScanner(cfg *Config, logger SLogger) *HeaderScanner {
	return &HeaderScanner{
		ChunkSize:     cfg.ReadChunkSize,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// HeaderScanner locates the blank line separating the response headers
// from the body, accumulating every byte it reads.
//
// All fields are safe to modify after construction but before first use.
type HeaderScanner struct {
	// ChunkSize is the maximum number of bytes per read.
	ChunkSize int

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// Scan reads from src, appending to raw, until raw contains "\r\n\r\n" or
// src reports [io.EOF]. It returns the lines preceding the terminator, or
// all the lines read when the stream ended without one.
//
// Bytes following the terminator stay in raw: they are the beginning of
// the body. A stream starting with the terminator yields zero lines.
//
// Errors other than [io.EOF] are returned as is. Sources that keep
// returning no data without an error fail with [io.ErrNoProgress].
func (hs *HeaderScanner) Scan(src io.Reader, raw *bytes.Buffer) ([]string, error) {
	chunk := make([]byte, max(hs.ChunkSize, len(headerTerminator)))
	t0 := hs.TimeNow()
	hs.Logger.Info("headerScanStart", slog.Int("chunkSize", len(chunk)), slog.Time("t", t0))

	lines, found, err := hs.scan(src, raw, chunk)

	hs.Logger.Info(
		"headerScanDone",
		slog.Any("err", err),
		slog.String("errClass", hs.ErrClassifier.Classify(err)),
		slog.Int("headerLines", len(lines)),
		slog.Bool("headerTerminatorFound", found),
		slog.Int("rawBytes", raw.Len()),
		slog.Time("t0", t0),
		slog.Time("t", hs.TimeNow()),
	)
	return lines, err
}

func (hs *HeaderScanner) scan(src io.Reader, raw *bytes.Buffer, chunk []byte) ([]string, bool, error) {
	var empty int
	for {
		count, err := src.Read(chunk)
		if count > 0 {
			empty = 0

			// The terminator may straddle two reads, so resume the search
			// a few bytes before the end of what we already had.
			start := max(0, raw.Len()-len(headerTerminator)+1)
			raw.Write(chunk[:count])
			if idx := bytes.Index(raw.Bytes()[start:], headerTerminator); idx >= 0 {
				return splitHeaderLines(raw.Bytes()[:start+idx]), true, nil
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			return trimTrailingEmpty(splitHeaderLines(raw.Bytes())), false, nil

		case err != nil:
			return nil, false, err

		case count == 0:
			if empty++; empty >= maxEmptyReads {
				return nil, false, io.ErrNoProgress
			}
		}
	}
}

func splitHeaderLines(block []byte) []string {
	if len(block) == 0 {
		return []string{}
	}
	return strings.Split(string(block), "\r\n")
}

func trimTrailingEmpty(lines []string) []string {
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// StatusLine is the parsed first line of an HTTP response.
type StatusLine struct {
	// Proto is the protocol, e.g. "HTTP/1.0".
	Proto string

	// ProtoMajor is the major protocol version.
	ProtoMajor int

	// ProtoMinor is the minor protocol version.
	ProtoMinor int

	// StatusCode is the numeric status, e.g. 200.
	StatusCode int

	// Reason is the reason phrase, possibly empty.
	Reason string
}

// ParseHeaderLines parses the header lines of a session into the status
// line and the header fields.
//
// Lines without a colon produce a field with an empty value; lines with
// an empty name are skipped.
func ParseHeaderLines(lines []string) (*StatusLine, http.Header, error) {
	if len(lines) == 0 {
		return nil, nil, ErrMalformedStatusLine
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return nil, nil, ErrMalformedStatusLine
	}
	major, minor, ok := http.ParseHTTPVersion(parts[0])
	if !ok {
		return nil, nil, ErrMalformedStatusLine
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return nil, nil, ErrMalformedStatusLine
	}
	status := &StatusLine{
		Proto:      parts[0],
		ProtoMajor: major,
		ProtoMinor: minor,
		StatusCode: code,
	}
	if len(parts) == 3 {
		status.Reason = parts[2]
	}

	header := make(http.Header)
	for _, line := range lines[1:] {
		name, value, _ := strings.Cut(line, ":")
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		header.Add(name, strings.TrimSpace(value))
	}
	return status, header, nil
}
