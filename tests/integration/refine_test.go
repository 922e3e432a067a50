package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Input records in the shape a language model drafts them: plausible
// keys, approximate titles, invented details.

const attnRecord = `@article{vaswani2017,
  title={Attention is all you need},
  author={Vaswani, A. and others},
  journal={arXiv preprint arXiv:1706.03762},
  year={2017}
}`

const resnetRecord = `@article{he2016,
  title={Deep residual learning for image recognition},
  author={He, K.},
  year={2015}
}`

const bertRecord = `@article{devlin2019,
  title={BERT pre-training of deep bidirectional transformers for language understanding},
  author={Devlin, J.},
  year={2018}
}`

const unknownRecord = `@article{phantom2024,
  title={A fabricated survey of imaginary retrieval engines},
  author={Nobody, N.},
  year={2024}
}`

// refineResult mirrors the refine command's JSON summary.
type refineResult struct {
	Input        string         `json:"input"`
	Output       string         `json:"output"`
	Total        int            `json:"total"`
	Resolved     int            `json:"resolved"`
	Skipped      int            `json:"skipped"`
	Kept         int            `json:"kept"`
	Failed       int            `json:"failed"`
	Sources      map[string]int `json:"sources"`
	FailedTitles []string       `json:"failed_titles"`
}

func parseRefineResult(t *testing.T, stdout string) refineResult {
	t.Helper()
	var res refineResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("parsing refine summary: %v\nstdout: %s", err, stdout)
	}
	return res
}

func TestRefine_ResolvesThroughRankedProviders(t *testing.T) {
	stubs := newStubProviders(t)
	env := stubs.env(t)
	workDir := t.TempDir()
	writeInput(t, workDir, attnRecord+"\n\n"+resnetRecord+"\n\n"+bertRecord+"\n")

	stdout, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s", "--no-cache")
	if err != nil {
		t.Fatalf("refine failed: %v\nstderr: %s", err, stderr)
	}

	res := parseRefineResult(t, stdout)
	if res.Total != 3 || res.Resolved != 3 || res.Failed != 0 || res.Skipped != 0 {
		t.Errorf("expected 3/3 resolved, got %+v", res)
	}
	for _, source := range []string{"semantic-scholar", "dblp", "crossref"} {
		if res.Sources[source] != 1 {
			t.Errorf("expected one record from %s, got %d", source, res.Sources[source])
		}
	}

	out, err := os.ReadFile(filepath.Join(workDir, "ref.txt"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	text := string(out)

	// Citation keys are preserved while the record text is replaced.
	for _, want := range []string{
		"@article{vaswani2017,",
		"@inproceedings{he2016,",
		"@inproceedings{devlin2019,",
		"title={Attention Is All You Need}",
		"{Deep Residual Learning for Image Recognition}",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}

	// Input order survives into the output.
	first := strings.Index(text, "vaswani2017")
	second := strings.Index(text, "he2016")
	third := strings.Index(text, "devlin2019")
	if !(first < second && second < third) {
		t.Errorf("records out of order: positions %d, %d, %d", first, second, third)
	}

	// The eight-author list is truncated and DBLP housekeeping fields
	// do not leak through.
	if !strings.Contains(text, "others}") {
		t.Error("expected truncated author list ending in others")
	}
	if strings.Contains(text, "Polosukhin") {
		t.Error("author list was not truncated")
	}
	if strings.Contains(text, "biburl") {
		t.Error("DBLP admin fields should be stripped")
	}
}

func TestRefine_KeepOriginalLandsFailedRecords(t *testing.T) {
	stubs := newStubProviders(t)
	env := stubs.env(t)
	workDir := t.TempDir()
	writeInput(t, workDir, unknownRecord+"\n")

	stdout, stderr, err := runBibfix(t, workDir, env,
		"refine", "--delay", "0s", "--no-cache", "--keep-original")
	if err != nil {
		t.Fatalf("refine failed: %v\nstderr: %s", err, stderr)
	}

	res := parseRefineResult(t, stdout)
	if res.Failed != 1 || res.Kept != 1 || res.Resolved != 0 {
		t.Errorf("expected 1 failed and kept, got %+v", res)
	}
	wantTitle := "A fabricated survey of imaginary retrieval engines"
	if len(res.FailedTitles) != 1 || res.FailedTitles[0] != wantTitle {
		t.Errorf("expected failed title %q, got %v", wantTitle, res.FailedTitles)
	}

	// The original text is kept verbatim in the output so a rerun
	// skips it.
	out, err := os.ReadFile(filepath.Join(workDir, "ref.txt"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(out) != unknownRecord {
		t.Errorf("output = %q, want the original record unchanged", string(out))
	}

	// The failed title is recorded for manual follow-up.
	errOut, err := os.ReadFile(filepath.Join(workDir, "error.txt"))
	if err != nil {
		t.Fatalf("reading error file: %v", err)
	}
	if got := string(errOut); got != wantTitle+"\n" {
		t.Errorf("error file = %q, want %q", got, wantTitle+"\n")
	}
}

func TestRefine_ExitsNonZeroWhenNothingLands(t *testing.T) {
	stubs := newStubProviders(t)
	env := stubs.env(t)
	workDir := t.TempDir()
	writeInput(t, workDir, unknownRecord+"\n")

	stdout, _, err := runBibfix(t, workDir, env, "refine", "--delay", "0s", "--no-cache")
	if code := exitCode(t, err); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}

	res := parseRefineResult(t, stdout)
	if res.Resolved != 0 || res.Failed != 1 {
		t.Errorf("expected all records failed, got %+v", res)
	}

	// Without --keep-original nothing was finalized, so no output file.
	if _, err := os.Stat(filepath.Join(workDir, "ref.txt")); !os.IsNotExist(err) {
		t.Errorf("expected no output file, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "error.txt")); err != nil {
		t.Errorf("expected error file: %v", err)
	}
}

func TestRefine_ResumeSkipsFinishedRecords(t *testing.T) {
	stubs := newStubProviders(t)
	env := stubs.env(t)
	workDir := t.TempDir()
	writeInput(t, workDir, attnRecord+"\n")

	_, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s", "--no-cache")
	if err != nil {
		t.Fatalf("first run failed: %v\nstderr: %s", err, stderr)
	}
	if got := stubs.s2Searches.Load(); got != 1 {
		t.Fatalf("expected 1 search after first run, got %d", got)
	}

	// The grown input arrives with one record already finished.
	writeInput(t, workDir, attnRecord+"\n\n"+resnetRecord+"\n")
	stdout, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s", "--no-cache")
	if err != nil {
		t.Fatalf("second run failed: %v\nstderr: %s", err, stderr)
	}

	res := parseRefineResult(t, stdout)
	if res.Skipped != 1 || res.Resolved != 1 {
		t.Errorf("expected 1 skipped and 1 resolved, got %+v", res)
	}
	if !strings.Contains(stderr, "already resolved, skipping") {
		t.Error("expected skip narration in stderr")
	}
	if got := stubs.s2Searches.Load(); got != 2 {
		t.Errorf("finished record was re-queried: %d searches total", got)
	}

	out, err := os.ReadFile(filepath.Join(workDir, "ref.txt"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "vaswani2017") || !strings.Contains(text, "he2016") {
		t.Errorf("expected both records in output:\n%s", text)
	}
	if strings.Index(text, "vaswani2017") > strings.Index(text, "he2016") {
		t.Error("resumed records should keep their original order")
	}
}

func TestRefine_ForceReprocessesEverything(t *testing.T) {
	stubs := newStubProviders(t)
	env := stubs.env(t)
	workDir := t.TempDir()
	writeInput(t, workDir, attnRecord+"\n")

	if _, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s", "--no-cache"); err != nil {
		t.Fatalf("first run failed: %v\nstderr: %s", err, stderr)
	}

	stdout, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s", "--no-cache", "--force")
	if err != nil {
		t.Fatalf("forced run failed: %v\nstderr: %s", err, stderr)
	}

	res := parseRefineResult(t, stdout)
	if res.Skipped != 0 || res.Resolved != 1 {
		t.Errorf("expected forced reprocess, got %+v", res)
	}
	if got := stubs.s2Searches.Load(); got != 2 {
		t.Errorf("expected 2 searches across forced runs, got %d", got)
	}
}

func TestRefine_CacheShortCircuitsRepeatLookups(t *testing.T) {
	stubs := newStubProviders(t)
	env := stubs.env(t)
	workDir := t.TempDir()
	writeInput(t, workDir, attnRecord+"\n")

	if _, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s"); err != nil {
		t.Fatalf("first run failed: %v\nstderr: %s", err, stderr)
	}

	// Losing the output file empties the checkpoint, so the record is
	// processed again, but the lookup cache answers without the network.
	if err := os.Remove(filepath.Join(workDir, "ref.txt")); err != nil {
		t.Fatalf("removing output: %v", err)
	}
	stdout, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s")
	if err != nil {
		t.Fatalf("cached run failed: %v\nstderr: %s", err, stderr)
	}

	res := parseRefineResult(t, stdout)
	if res.Resolved != 1 || res.Sources["semantic-scholar"] != 1 {
		t.Errorf("expected cached resolution, got %+v", res)
	}
	if got := stubs.s2Searches.Load(); got != 1 {
		t.Errorf("expected cache to absorb the repeat lookup, got %d searches", got)
	}

	// A forced run requeries instead of replaying the cached answer.
	if _, stderr, err := runBibfix(t, workDir, env, "refine", "--delay", "0s", "--force"); err != nil {
		t.Fatalf("forced run failed: %v\nstderr: %s", err, stderr)
	}
	if got := stubs.s2Searches.Load(); got != 2 {
		t.Errorf("expected a forced run to requery, got %d searches", got)
	}
}

func TestRefine_MissingInputIsDataError(t *testing.T) {
	stubs := newStubProviders(t)
	env := stubs.env(t)
	workDir := t.TempDir()

	stdout, _, err := runBibfix(t, workDir, env, "refine", "--input", "absent.txt")
	if code := exitCode(t, err); code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(stdout), &errResp); err != nil {
		t.Fatalf("parsing error response: %v\nstdout: %s", err, stdout)
	}
	if !strings.Contains(errResp.Error, "absent.txt") {
		t.Errorf("error should name the input file, got %q", errResp.Error)
	}
}
