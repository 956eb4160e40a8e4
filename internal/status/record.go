// Package status decodes the files a running job writes into its directory
// and polls them on behalf of the dispatcher.
package status

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// ErrParse reports a status file without a complete "Status:" line.
// Callers treat it as "no update this cycle".
var ErrParse = errors.New("malformed status line")

const (
	statusPrefix  = "Status:"
	commentPrefix = "Comment"
	// Width of the "Comment = " label preceding the text in run.info.
	commentLabelWidth = 10
)

var numericFields = []string{
	models.FieldTotal,
	models.FieldProcessed,
	models.FieldLLFPassed,
	models.FieldHits,
}

// ParseLine decodes the key=value list of a single status line. The
// "Status:" prefix is optional.
func ParseLine(line string) (map[string]string, error) {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), statusPrefix))
	if body == "" {
		return nil, fmt.Errorf("%w: empty line", ErrParse)
	}

	fields := make(map[string]string)
	for _, kv := range strings.Split(body, ",") {
		parts := strings.Split(kv, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: bad pair %q", ErrParse, kv)
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("%w: empty key in %q", ErrParse, kv)
		}
		fields[key] = strings.TrimSpace(parts[1])
	}

	st, ok := fields[models.FieldStatus]
	if !ok || st == "" {
		return nil, fmt.Errorf("%w: no Status field", ErrParse)
	}

	// A line cut short mid-number leaves an empty or partial value.
	if !strings.HasPrefix(st, "Error") {
		for _, name := range numericFields {
			v, ok := fields[name]
			if !ok {
				continue
			}
			if _, err := strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("%w: %s=%q", ErrParse, name, v)
			}
		}
	}
	return fields, nil
}

// Decode returns the record encoded by the last "Status:" line in data.
func Decode(data []byte) (models.StatusRecord, error) {
	var last string
	found := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, statusPrefix) {
			last = line
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return models.StatusRecord{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if !found {
		return models.StatusRecord{}, fmt.Errorf("%w: no status line", ErrParse)
	}

	fields, err := ParseLine(last)
	if err != nil {
		return models.StatusRecord{}, err
	}
	return models.StatusRecord{
		Status:  fields[models.FieldStatus],
		Fields:  fields,
		Indexed: constants.IndexedUnavailable,
	}, nil
}

// ReadFile decodes the status file at path.
func ReadFile(path string) (models.StatusRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.StatusRecord{}, err
	}
	return Decode(data)
}

// ReadIndexed returns the trimmed content of the indexed-count file, or
// "NA" when it is missing, unreadable or empty.
func ReadIndexed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return constants.IndexedUnavailable
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return constants.IndexedUnavailable
	}
	return v
}

// ReadComment returns the first Comment entry of a run.info file.
func ReadComment(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, commentPrefix) {
			continue
		}
		if len(line) <= commentLabelWidth {
			return "", true
		}
		return strings.TrimRight(line[commentLabelWidth:], "\r\n "), true
	}
	return "", false
}
