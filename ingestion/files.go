// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/session"
)

// File is an uploaded file.
type File struct {
	Name     string
	Data     []byte
	MimeHint string
}

// FileResult is the outcome of one file in IngestFiles. Exactly one of
// Result and Err is set.
type FileResult struct {
	Name   string
	Result *Result
	Err    error
}

// IngestFile extracts text from a plain text, markdown or PDF file and
// stores it titled with the file's base name.
func (p *Pipeline) IngestFile(ctx context.Context, sess *session.Session, file File) (*Result, error) {
	result, err := p.ingestFile(ctx, file, false)
	if err != nil {
		return nil, err
	}
	p.selectDocument(ctx, sess, result.DocumentID)
	return result, nil
}

// IngestTextFile is IngestFile restricted to extract.TextExtensions.
func (p *Pipeline) IngestTextFile(ctx context.Context, sess *session.Session, file File) (*Result, error) {
	result, err := p.ingestFile(ctx, file, true)
	if err != nil {
		return nil, err
	}
	p.selectDocument(ctx, sess, result.DocumentID)
	return result, nil
}

// IngestFiles ingests files concurrently on the worker pool. Results are in
// input order. The session ends up selecting the last file that succeeded.
func (p *Pipeline) IngestFiles(ctx context.Context, sess *session.Session, files []File) []FileResult {
	results := make([]FileResult, len(files))
	var wg sync.WaitGroup

	for i, file := range files {
		results[i].Name = file.Name
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			result, err := p.ingestFile(ctx, file, false)
			results[i].Result = result
			results[i].Err = err
		})
		if err != nil {
			wg.Done()
			results[i].Err = core.Wrap(core.KindUnknown, "ingest files", err)
		}
	}
	wg.Wait()

	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Err == nil {
			p.selectDocument(ctx, sess, results[i].Result.DocumentID)
			break
		}
	}

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.logger.Info("ingested files", "files", len(files), "failed", failed)
	return results
}

func (p *Pipeline) ingestFile(ctx context.Context, file File, textOnly bool) (*Result, error) {
	const op = "ingest file"

	name := filepath.Base(strings.TrimSpace(file.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, core.NewError(core.KindInvalidInput, op, core.ErrInvalidIdentity)
	}
	if textOnly && !extract.IsTextFile(name) {
		return nil, core.NewError(core.KindInvalidInput, op, core.ErrUnsupportedFile)
	}

	text, err := p.extractor.Extract(name, file.Data, file.MimeHint)
	if err != nil {
		p.logger.Warn("error extracting file", "file", name, "err", err)
		return nil, core.Wrap(core.KindInvalidInput, op, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, core.NewError(core.KindEmptyExtraction, op, core.ErrNoExtractableText)
	}

	source := extract.Detect(name, file.MimeHint).Source()
	return p.ingest(ctx, core.Identity{Title: name, Source: source}, text)
}
