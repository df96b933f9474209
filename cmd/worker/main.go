// Worker process: consumes journal submissions, runs workflows, serves the
// status endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/config"
	"github.com/journal-graph-kernel/internal/curation"
	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/entity"
	"github.com/journal-graph-kernel/internal/extract"
	"github.com/journal-graph-kernel/internal/graph"
	"github.com/journal-graph-kernel/internal/llm"
	"github.com/journal-graph-kernel/internal/pipeline"
	"github.com/journal-graph-kernel/internal/queue"
	"github.com/journal-graph-kernel/internal/server"
	"github.com/journal-graph-kernel/internal/vault"
	"github.com/journal-graph-kernel/internal/writeback"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting journal graph worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	graphClient, err := graph.NewClient(ctx, cfg.Graph, logger)
	if err != nil {
		logger.Fatal("graph connection failed", zap.Error(err))
	}
	defer graphClient.Close(context.Background())
	if err := graphClient.InitSchema(ctx); err != nil {
		logger.Warn("schema bootstrap incomplete", zap.Error(err))
	}

	store, err := curation.Open(cfg.CurationDBPath, logger)
	if err != nil {
		logger.Fatal("curation store failed", zap.Error(err))
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, response cache runs L1-only", zap.Error(err))
			redisClient = nil
		}
	}

	llmClient, err := llm.NewClient(cfg.LLM, redisClient, logger)
	if err != nil {
		logger.Fatal("llm gateway failed", zap.Error(err))
	}

	nameCfg := entity.DefaultConfig()
	if cfg.EntityIndexPath != "" {
		nameCfg.IndexPath = cfg.EntityIndexPath
	} else {
		nameCfg.InMemory = true
	}
	names, err := entity.NewIndex(nameCfg, logger)
	if err != nil {
		logger.Fatal("entity index failed", zap.Error(err))
	}
	defer names.Close()

	var vaultIdx *vault.Index
	if cfg.VaultPath != "" {
		vaultIdx, err = vault.NewIndex(cfg.VaultPath, logger)
		if err != nil {
			logger.Fatal("vault index failed", zap.Error(err))
		}
		defer vaultIdx.Close()
		rebuildNameIndex(ctx, vaultIdx, names, logger)
	}

	var resolver extract.LinkResolver
	if vaultIdx != nil {
		resolver = vaultIdx
	}
	extractor := extract.NewService(llmClient, graphClient, resolver, names, logger)
	projector := writeback.NewProjector(vaultIdx, names, logger)

	orch := pipeline.New(cfg.Pipeline, extractor, graphClient, store, llmClient, projector.OnCommit, logger)
	if err := orch.ResumeAll(ctx); err != nil {
		logger.Error("resume of unfinished workflows failed", zap.Error(err))
	}

	q, err := queue.Connect(queue.Config{URL: cfg.NATSURL, Subject: cfg.QueueSubject}, logger)
	if err != nil {
		logger.Fatal("queue connection failed", zap.Error(err))
	}
	defer q.Close()

	sub, err := q.ConsumeSubmissions(ctx, func(ctx context.Context, in domain.SubmitInput) error {
		_, err := orch.Start(ctx, in)
		return err
	})
	if err != nil {
		logger.Fatal("queue subscription failed", zap.Error(err))
	}

	srv := server.New(cfg.Addr, orch, logger)
	srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	sub.Drain()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	// Running workflows suspend at their last checkpoint and resume on the
	// next start.
	cancel()
	orch.Wait()

	logger.Info("shutdown complete")
}

// rebuildNameIndex seeds the entity name index from vault frontmatter so the
// first journal after a restart deduplicates against known identities.
func rebuildNameIndex(ctx context.Context, vaultIdx *vault.Index, names *entity.Index, logger *zap.Logger) {
	notes, err := vaultIdx.Notes(ctx)
	if err != nil {
		logger.Warn("vault walk failed, name index starts empty", zap.Error(err))
		return
	}
	indexed := 0
	for _, note := range notes {
		fm := note.Frontmatter
		if fm.EntityID == "" || fm.EntityType == "" {
			continue
		}
		ref := entity.Ref{
			UUID:    fm.EntityID,
			Name:    note.Name,
			Type:    fm.EntityType,
			Summary: fm.Summary,
		}
		if err := names.AddRef(ctx, ref); err != nil {
			logger.Warn("skipping note in name index",
				zap.String("note", note.RelPath), zap.Error(err))
			continue
		}
		indexed++
	}
	logger.Info("name index rebuilt from vault",
		zap.Int("notes", len(notes)), zap.Int("indexed", indexed))
}
