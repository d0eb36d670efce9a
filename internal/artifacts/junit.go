package artifacts

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxFailedNames bounds the failing test names kept in a summary.
const maxFailedNames = 20

// TestSummary aggregates JUnit XML reports.
type TestSummary struct {
	Files    int `json:"files"`
	Tests    int `json:"tests"`
	Failures int `json:"failures"`
	Errors   int `json:"errors"`
	Skipped  int `json:"skipped"`
	// Failed names up to maxFailedNames failing or erroring test cases as
	// "classname.name".
	Failed []string `json:"failed,omitempty"`
}

// Passed reports whether no test failed or errored.
func (s *TestSummary) Passed() bool {
	return s == nil || s.Failures == 0 && s.Errors == 0
}

func (s *TestSummary) String() string {
	return fmt.Sprintf("%d tests, %d failures, %d errors, %d skipped", s.Tests, s.Failures, s.Errors, s.Skipped)
}

// Add folds other into s.
func (s *TestSummary) Add(other *TestSummary) {
	if other == nil {
		return
	}
	s.Files += other.Files
	s.Tests += other.Tests
	s.Failures += other.Failures
	s.Errors += other.Errors
	s.Skipped += other.Skipped
	for _, name := range other.Failed {
		if len(s.Failed) < maxFailedNames {
			s.Failed = append(s.Failed, name)
		}
	}
}

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	XMLName xml.Name     `xml:"testsuite"`
	Name    string       `xml:"name,attr"`
	Cases   []junitCase  `xml:"testcase"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitCase struct {
	Name      string    `xml:"name,attr"`
	Classname string    `xml:"classname,attr"`
	Failure   *struct{} `xml:"failure"`
	Error     *struct{} `xml:"error"`
	Skipped   *struct{} `xml:"skipped"`
}

// ParseJUnit summarises one JUnit XML document. Both a <testsuites> root and
// a bare <testsuite> root are accepted. Counts come from the test cases, not
// from the suite attributes, which some tools leave out.
func ParseJUnit(r io.Reader) (*TestSummary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var root struct{ XMLName xml.Name }
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid JUnit XML: %w", err)
	}

	var suites []junitSuite
	switch root.XMLName.Local {
	case "testsuites":
		var doc junitSuites
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid JUnit XML: %w", err)
		}
		suites = doc.Suites
	case "testsuite":
		var doc junitSuite
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid JUnit XML: %w", err)
		}
		suites = []junitSuite{doc}
	default:
		return nil, fmt.Errorf("invalid JUnit XML: unexpected root element <%s>", root.XMLName.Local)
	}

	s := &TestSummary{Files: 1}
	var walk func([]junitSuite)
	walk = func(suites []junitSuite) {
		for _, suite := range suites {
			for _, c := range suite.Cases {
				s.Tests++
				switch {
				case c.Failure != nil:
					s.Failures++
				case c.Error != nil:
					s.Errors++
				case c.Skipped != nil:
					s.Skipped++
					continue
				default:
					continue
				}
				if len(s.Failed) < maxFailedNames {
					s.Failed = append(s.Failed, caseName(c))
				}
			}
			walk(suite.Suites)
		}
	}
	walk(suites)
	return s, nil
}

func caseName(c junitCase) string {
	if c.Classname == "" {
		return c.Name
	}
	return c.Classname + "." + c.Name
}

// SummarizeDir summarises every *.xml file below dir. Files that are not
// JUnit reports are skipped. It returns nil if no report was found.
func SummarizeDir(dir string) (*TestSummary, error) {
	var total *TestSummary
	err := filepath.WalkDir(dir, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(p), ".xml") {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		s, err := ParseJUnit(f)
		if err != nil {
			return nil
		}
		if total == nil {
			total = &TestSummary{}
		}
		total.Add(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}
