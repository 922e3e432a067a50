// Package integration provides integration tests for bibfix commands.
package integration

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

var (
	bibfixBinary     string
	bibfixBinaryOnce sync.Once
	bibfixBinaryErr  error
)

// getBibfixBinary builds the bibfix binary once and returns its path.
func getBibfixBinary(t *testing.T) string {
	t.Helper()
	bibfixBinaryOnce.Do(func() {
		// Get module root directory
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			bibfixBinaryErr = os.ErrInvalid
			return
		}
		moduleRoot := filepath.Dir(filepath.Dir(filepath.Dir(filename)))

		// Build bibfix to a temp location
		tmpDir, err := os.MkdirTemp("", "bibfix-test-*")
		if err != nil {
			bibfixBinaryErr = err
			return
		}
		bibfixBinary = filepath.Join(tmpDir, "bibfix")

		cmd := exec.Command("go", "build", "-o", bibfixBinary, "./cmd/bibfix")
		cmd.Dir = moduleRoot
		if output, err := cmd.CombinedOutput(); err != nil {
			bibfixBinaryErr = &buildError{output: string(output), err: err}
			return
		}
	})
	if bibfixBinaryErr != nil {
		t.Fatalf("failed to build bibfix: %v", bibfixBinaryErr)
	}
	return bibfixBinary
}

type buildError struct {
	output string
	err    error
}

func (e *buildError) Error() string {
	return e.err.Error() + ": " + e.output
}

// Provider stub catalog. Three papers cover the fallthrough order:
// one that Semantic Scholar knows, one only DBLP knows, one only
// Crossref knows. Everything else is unknown everywhere.

const attnBib = `@article{Vaswani2017AttentionIA,
  title={Attention Is All You Need},
  author={Ashish Vaswani and Noam Shazeer and Niki Parmar and Jakob Uszkoreit and Llion Jones and Aidan N. Gomez and Lukasz Kaiser and Illia Polosukhin},
  booktitle={Neural Information Processing Systems},
  year={2017}
}`

const resnetBib = `@inproceedings{DBLP:conf/cvpr/HeZRS16,
  author    = {Kaiming He and Xiangyu Zhang and Shaoqing Ren and Jian Sun},
  title     = {Deep Residual Learning for Image Recognition},
  booktitle = {CVPR},
  year      = {2016},
  timestamp = {Wed, 16 Oct 2019 14:14:50 +0200},
  biburl    = {https://dblp.org/rec/conf/cvpr/HeZRS16.bib},
  bibsource = {dblp computer science bibliography, https://dblp.org}
}`

const bertDOI = "10.18653/v1/n19-1423"

const bertBib = `@inproceedings{Devlin_2019,
  title={BERT: Pre-training of Deep Bidirectional Transformers for Language Understanding},
  author={Devlin, Jacob and Chang, Ming-Wei and Lee, Kenton and Toutanova, Kristina},
  booktitle={Proceedings of NAACL-HLT 2019},
  year={2019}
}`

// stubProviders fakes all three metadata sources plus the DOI
// resolver, counting requests so tests can prove what went over the
// wire.
type stubProviders struct {
	s2       *httptest.Server
	dblp     *httptest.Server
	crossref *httptest.Server
	doi      *httptest.Server

	s2Searches       atomic.Int32
	dblpSearches     atomic.Int32
	dblpFetches      atomic.Int32
	crossrefSearches atomic.Int32
	doiFetches       atomic.Int32
}

func newStubProviders(t *testing.T) *stubProviders {
	t.Helper()
	s := &stubProviders{}

	s.s2 = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paper/search" {
			http.NotFound(w, r)
			return
		}
		s.s2Searches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		query := strings.ToLower(r.URL.Query().Get("query"))
		if !strings.Contains(query, "attention") {
			fmt.Fprint(w, `{"total":0,"data":[]}`)
			return
		}
		fmt.Fprintf(w, `{"total":1,"data":[{
			"paperId":"204e3073870fae3d05bcbc2f6a8e263d9b72e776",
			"title":"Attention Is All You Need",
			"authors":[{"name":"Ashish Vaswani"},{"name":"Noam Shazeer"}],
			"year":2017,
			"venue":"Neural Information Processing Systems",
			"citationStyles":{"bibtex":%q}
		}]}`, attnBib)
	}))
	t.Cleanup(s.s2.Close)

	s.dblp = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			s.dblpSearches.Add(1)
			q := strings.ToLower(r.URL.Query().Get("q"))
			if !strings.Contains(q, "residual") {
				fmt.Fprint(w, `<html><body><p>no matches</p></body></html>`)
				return
			}
			fmt.Fprintf(w, `<html><body>
				<a href="%s/rec/conf/cvpr/HeZRS16.html">details</a>
				<a href="%s/rec/conf/cvpr/HeZRS16.html?view=bibtex">export record</a>
			</body></html>`, s.dblp.URL, s.dblp.URL)
		case "/rec/conf/cvpr/HeZRS16.bib":
			s.dblpFetches.Add(1)
			fmt.Fprint(w, resnetBib)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.dblp.Close)

	s.crossref = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works" {
			http.NotFound(w, r)
			return
		}
		s.crossrefSearches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		query := strings.ToLower(r.URL.Query().Get("query"))
		if !strings.Contains(query, "bert") {
			fmt.Fprint(w, `{"message":{"items":[]}}`)
			return
		}
		fmt.Fprintf(w, `{"message":{"items":[{
			"DOI":%q,
			"title":["BERT: Pre-training of Deep Bidirectional Transformers for Language Understanding"],
			"author":[{"family":"Devlin"}],
			"published":{"date-parts":[[2019,6]]}
		}]}}`, bertDOI)
	}))
	t.Cleanup(s.crossref.Close)

	s.doi = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+bertDOI {
			http.NotFound(w, r)
			return
		}
		s.doiFetches.Add(1)
		fmt.Fprint(w, bertBib)
	}))
	t.Cleanup(s.doi.Close)

	return s
}

// env builds the process environment for one bibfix invocation:
// isolated config and cache homes plus endpoint overrides for every
// provider stub.
func (s *stubProviders) env(t *testing.T) []string {
	t.Helper()
	home := t.TempDir()
	return []string{
		"XDG_CONFIG_HOME=" + filepath.Join(home, "config"),
		"XDG_CACHE_HOME=" + filepath.Join(home, "cache"),
		"S2_API_KEY=integration-test-key",
		"BIBFIX_S2_URL=" + s.s2.URL,
		"BIBFIX_DBLP_URL=" + s.dblp.URL,
		"BIBFIX_CROSSREF_URL=" + s.crossref.URL,
		"BIBFIX_DOI_URL=" + s.doi.URL,
	}
}

// runBibfix executes the bibfix command in workDir with the given
// environment overrides, returning stdout and stderr separately so
// JSON output can be parsed without progress narration mixed in.
func runBibfix(t *testing.T, workDir string, env []string, args ...string) (string, string, error) {
	t.Helper()
	bin := getBibfixBinary(t)
	cmd := exec.Command(bin, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// exitCode extracts the process exit status from a Run error.
func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("command failed without an exit status: %v", err)
	}
	return exitErr.ExitCode()
}

// writeInput writes a citation input file into dir and returns its path.
func writeInput(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "title.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
