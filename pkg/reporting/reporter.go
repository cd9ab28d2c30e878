/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package reporting renders runner results as JSON or text reports.
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alexandremahdhaoui/virtmig/pkg/runner"
)

// ReportFormat specifies the output format for reports
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatText ReportFormat = "text"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported report format")
	ErrWriteReport       = errors.New("failed to write report")
)

// ParseFormat returns the ReportFormat named by s.
func ParseFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(s); f {
	case FormatJSON, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Reporter writes reports under artifactDir/<run id>/.
type Reporter struct {
	artifactDir string
	out         io.Writer
}

// NewReporter returns a Reporter printing summaries to stdout.
func NewReporter(artifactDir string) *Reporter {
	return &Reporter{
		artifactDir: artifactDir,
		out:         os.Stdout,
	}
}

// WithOutput sets where PrintSummary writes.
func (r *Reporter) WithOutput(w io.Writer) *Reporter {
	r.out = w
	return r
}

// GenerateReport renders result in the given format.
func (r *Reporter) GenerateReport(result *runner.Result, format ReportFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(result)
	case FormatText:
		return formatText(result), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ReportPath returns the file WriteReport writes for result.
func (r *Reporter) ReportPath(result *runner.Result, format ReportFormat) string {
	filename := "report.txt"
	if format == FormatJSON {
		filename = "report.json"
	}
	return filepath.Join(r.artifactDir, result.RunID, filename)
}

// WriteReport generates a report and writes it to disk, returning its path.
func (r *Reporter) WriteReport(result *runner.Result, format ReportFormat) (string, error) {
	content, err := r.GenerateReport(result, format)
	if err != nil {
		return "", err
	}

	path := r.ReportPath(result, format)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Join(err, ErrWriteReport)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", errors.Join(err, fmt.Errorf("path=%s", path), ErrWriteReport)
	}

	return path, nil
}

// PrintSummary prints one line per result and a closing total.
func (r *Reporter) PrintSummary(results ...*runner.Result) error {
	_, err := io.WriteString(r.out, formatSummary(results))
	return err
}
