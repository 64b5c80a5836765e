package build

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dongbohu/biohub/internal/common"
	"github.com/dongbohu/biohub/internal/interfaces"
	"github.com/dongbohu/biohub/internal/jobs"
)

type sourceResult struct {
	source string
	count  int64
	err    error
}

// mergeClass merges every source in sources concurrently, with the same
// upsert policy, and aggregates per-source counts. It fails fast per source
// (see mergeSource) but lets sibling sources already in flight complete
// before returning the first error encountered.
func (b *Builder) mergeClass(ctx context.Context, sources []string, upsert bool, ids []string) (map[string]int64, error) {
	if len(sources) == 0 {
		return map[string]int64{}, nil
	}

	results := make(chan sourceResult, len(sources))
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		src := src
		common.SafeGo(b.logger, "merge-source:"+src, func() {
			defer wg.Done()
			count, err := b.mergeSource(ctx, src, upsert, ids)
			results <- sourceResult{source: src, count: count, err: err}
		})
	}
	wg.Wait()
	close(results)

	stats := make(map[string]int64, len(sources))
	var firstErr error
	for r := range results {
		stats[r.source] = r.count
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return stats, firstErr
}

// mergeSource fans one source's documents out across the process pool in
// batches of b.batchSize, cursoring ids in id-batches of 10*b.batchSize
// (spec's "id_provider" open question resolution: an explicit ids list
// becomes a single id-batch containing the whole list; otherwise an
// id-batch cursor streams from the source collection). Any batch failure
// sets a shared flag that stops further submissions for this source;
// batches already in flight are allowed to finish.
func (b *Builder) mergeSource(ctx context.Context, collection string, upsert bool, ids []string) (int64, error) {
	mapperName, err := b.getMapperForSource(ctx, collection)
	if err != nil {
		return 0, err
	}

	var total int64
	var failed atomic.Bool
	var firstErr error
	var errMu sync.Mutex
	var wg sync.WaitGroup
	batchNum := 0

	recordErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		failed.Store(true)
	}

	submit := func(batchIDs []string) {
		if failed.Load() {
			return
		}
		_ = b.pacer.Wait(ctx)
		if failed.Load() {
			return
		}
		num := batchNum
		batchNum++
		wg.Add(1)
		common.SafeGo(b.logger, fmt.Sprintf("merge-batch:%s:%d", collection, num), func() {
			defer wg.Done()
			b.runBatch(ctx, collection, mapperName, upsert, num, batchIDs, &total, recordErr)
		})
	}

	if len(ids) > 0 {
		for i := 0; i < len(ids) && !failed.Load(); i += b.batchSize {
			end := i + b.batchSize
			if end > len(ids) {
				end = len(ids)
			}
			submit(append([]string(nil), ids[i:end]...))
		}
		wg.Wait()
		return total, firstErr
	}

	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	idChan, err := b.source.IterIDs(iterCtx, collection)
	if err != nil {
		return 0, &InfrastructureError{Reason: "iterate source ids", Err: err}
	}

	idBatchSize := 10 * b.batchSize
	idBatch := make([]string, 0, idBatchSize)
	flush := func() {
		for i := 0; i < len(idBatch) && !failed.Load(); i += b.batchSize {
			end := i + b.batchSize
			if end > len(idBatch) {
				end = len(idBatch)
			}
			submit(append([]string(nil), idBatch[i:end]...))
		}
		idBatch = idBatch[:0]
	}

	for id := range idChan {
		if failed.Load() {
			cancel()
			continue
		}
		idBatch = append(idBatch, id)
		if len(idBatch) == idBatchSize {
			flush()
		}
	}
	if len(idBatch) > 0 && !failed.Load() {
		flush()
	}

	wg.Wait()
	return total, firstErr
}

// runBatch fetches documents for one merge batch (the main process is the
// sole holder of the Badger handle, so it performs all store I/O), hands the
// batch to the process pool for mapper transformation, and writes the
// result back to the target.
func (b *Builder) runBatch(ctx context.Context, collection, mapperName string, upsert bool, num int, batchIDs []string, total *int64, recordErr func(error)) {
	docs, err := b.source.GetByIDs(ctx, collection, batchIDs)
	if err != nil {
		b.dumpBatchFailure(collection, num, "InfrastructureError", err.Error(), "")
		recordErr(&BatchFailureError{Source: collection, BatchNum: num, Err: err})
		return
	}

	task := interfaces.WorkerTask{
		TaskID:            common.NewJobTaskID(),
		SourceCollection:  collection,
		TargetCollection:  b.target.Name(),
		Docs:              docs,
		MapperName:        mapperName,
		Upsert:            upsert,
		BatchNum:          num,
	}
	info := interfaces.PInfo{
		Category:    interfaces.JobCategoryMerge,
		Source:      collection,
		Step:        "merge",
		Description: fmt.Sprintf("%s batch %d", collection, num),
	}

	future := b.jobs.DeferToProcess(ctx, info, task)
	res := future.Wait(ctx)
	if res.Err != nil {
		b.dumpBatchFailure(collection, num, "InfrastructureError", res.Err.Error(), "")
		recordErr(&BatchFailureError{Source: collection, BatchNum: num, Err: res.Err})
		return
	}

	result, ok := res.Value.(interfaces.WorkerResult)
	if !ok {
		err := fmt.Errorf("worker returned unexpected result type %T", res.Value)
		b.dumpBatchFailure(collection, num, "InfrastructureError", err.Error(), "")
		recordErr(&BatchFailureError{Source: collection, BatchNum: num, Err: err})
		return
	}
	if result.Failed() {
		b.dumpBatchFailure(collection, num, result.ErrorType, result.ErrorMessage, result.ErrorStack)
		recordErr(&BatchFailureError{Source: collection, BatchNum: num, Err: fmt.Errorf("%s: %s", result.ErrorType, result.ErrorMessage)})
		return
	}

	if _, err := b.target.Write(ctx, result.Docs, upsert); err != nil {
		b.dumpBatchFailure(collection, num, "InfrastructureError", err.Error(), "")
		recordErr(&InfrastructureError{Reason: "target write", Err: err})
		return
	}
	// stats count documents the batch processed, not documents the target
	// actually merged: a non-root source upsert=false batch can legitimately
	// skip ids with no prior root doc, but that's not a failure to merge.
	atomic.AddInt64(total, int64(len(result.Docs)))
}

func (b *Builder) dumpBatchFailure(collection string, batchNum int, errType, message, stack string) {
	path, err := jobs.DumpBatchFailure(b.crashDir, b.target.Name(), collection, batchNum, errType, message, stack)
	if err != nil {
		b.logger.Error().Err(err).Msg("write crash dump")
		return
	}
	b.logger.Warn().Str("path", path).Str("source", collection).Int("batch", batchNum).Msg("batch failure dumped")
}
