package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The Trainer is the assembly point. NewTrainer takes a validated run
// config and builds every component in dependency order:
//
//   corpus -> tokenizer -> dataset -> algorithms -> model
//          -> optimizer -> scheduler -> loggers
//
// Config-surgery algorithms run between "algorithms" and "model": they
// rewrite the model config (swap FFN/norm variants) before NewGPT sees it.
//
// Fit then runs the loop. One step is:
//
//   forward (cached) -> loss -> backward -> gradient hooks
//   -> optimizer step at the scheduled LR -> zero grads
//
// Periodic work (logging, evaluation, checkpointing) hangs off the step
// counter. Fit owns the loop; Close flushes the loggers.
//
// ===========================================================================

// speedWindow is the number of recent step rates averaged for the
// tokens/sec metric.
const speedWindow = 20

// Trainer owns a training run end to end.
type Trainer struct {
	cfg TrainConfig

	model     *GPT
	tokenizer TextTokenizer
	train     *Dataset
	val       *Dataset
	optimizer Optimizer
	scheduler Scheduler
	logger    TrainLogger

	gradientAlgos []GradientAlgorithm

	step       int
	stepRates  []float64 // Recent tokens/sec samples
	closedOnce bool
}

// NewTrainer builds every component of a run from its config.
func NewTrainer(cfg TrainConfig) (*Trainer, error) {
	SeedRNG(cfg.Seed)

	corpus, err := LoadCorpus(cfg.Data)
	if err != nil {
		return nil, err
	}

	tokenizer, err := BuildTokenizer(cfg.Tokenizer, corpus)
	if err != nil {
		return nil, err
	}

	algos, err := BuildAlgorithms(cfg.Algorithms)
	if err != nil {
		return nil, err
	}

	// Architecture surgery before the model exists.
	modelCfg := cfg.Model
	if modelCfg.VocabSize == 0 {
		modelCfg.VocabSize = tokenizer.VocabSize()
	}
	var gradientAlgos []GradientAlgorithm
	for _, algo := range algos {
		if ca, ok := algo.(ConfigAlgorithm); ok {
			ca.ApplyConfig(&modelCfg)
		}
		if ga, ok := algo.(GradientAlgorithm); ok {
			gradientAlgos = append(gradientAlgos, ga)
		}
	}

	model, err := NewGPT(modelCfg)
	if err != nil {
		return nil, err
	}

	dataset := BuildDataset(corpus, tokenizer, modelCfg.SeqLen)
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("corpus too small: no sequences of length %d", modelCfg.SeqLen)
	}
	train, val := dataset.Split(cfg.Data.ValFraction, cfg.Data.ShuffleSeed)
	if train.Len() == 0 {
		return nil, fmt.Errorf("corpus too small: validation split consumed all %d sequences", dataset.Len())
	}

	optimizer, err := BuildOptimizer(cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	scheduler, err := BuildScheduler(cfg.Scheduler, cfg.Optimizer.LR, plannedSteps(cfg.Trainer, train.Len()))
	if err != nil {
		return nil, err
	}

	logger, err := BuildLoggers(cfg.Loggers, cfg.RunName)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		cfg:           cfg,
		model:         model,
		tokenizer:     tokenizer,
		train:         train,
		val:           val,
		optimizer:     optimizer,
		scheduler:     scheduler,
		logger:        logger,
		gradientAlgos: gradientAlgos,
	}, nil
}

// plannedSteps returns the total optimizer steps the run will take, which
// the decaying schedulers need up front.
func plannedSteps(cfg TrainerConfig, trainLen int) int {
	batches := (trainLen + cfg.BatchSize - 1) / cfg.BatchSize
	total := batches * cfg.Epochs
	if cfg.MaxSteps > 0 && (total == 0 || cfg.MaxSteps < total) {
		total = cfg.MaxSteps
	}
	if total < 1 {
		total = 1
	}
	return total
}

// Model returns the model under training.
func (t *Trainer) Model() *GPT {
	return t.model
}

// Tokenizer returns the run's tokenizer.
func (t *Trainer) Tokenizer() TextTokenizer {
	return t.tokenizer
}

// Fit runs the training loop to completion.
func (t *Trainer) Fit() error {
	env := DetectRunEnvironment()
	env.LogTo(t.logger)
	t.logger.LogEvent("run start",
		"run", t.cfg.RunName,
		"params", t.model.NumParameters(),
		"train_sequences", t.train.Len(),
		"val_sequences", t.val.Len(),
	)

	params := t.model.Parameters()
	maxSteps := t.cfg.Trainer.MaxSteps

	// With max_steps set the run is step-bounded and epochs just recycle
	// the data; otherwise the epoch count bounds the run.
	for epoch := 0; ; epoch++ {
		if maxSteps == 0 && epoch >= t.cfg.Trainer.Epochs {
			break
		}

		order := t.train.EpochOrder(t.cfg.Data.ShuffleSeed, epoch)
		for _, batch := range Batches(order, t.cfg.Trainer.BatchSize) {
			loss := t.trainStep(params, batch)

			if t.cfg.Trainer.LogInterval > 0 && t.step%t.cfg.Trainer.LogInterval == 0 {
				t.logMetrics(loss)
			}
			if t.cfg.Trainer.EvalInterval > 0 && t.step > 0 && t.step%t.cfg.Trainer.EvalInterval == 0 {
				valLoss := t.Evaluate()
				t.logger.LogMetrics(t.step, map[string]float64{"val_loss": valLoss})
			}
			if t.cfg.Trainer.CheckpointInterval > 0 && t.step > 0 && t.step%t.cfg.Trainer.CheckpointInterval == 0 {
				if err := t.checkpoint(); err != nil {
					return err
				}
			}

			t.step++
			if maxSteps > 0 && t.step >= maxSteps {
				return t.finish()
			}
		}
	}

	return t.finish()
}

// finish writes a final checkpoint and logs the run end.
func (t *Trainer) finish() error {
	if t.cfg.Trainer.CheckpointDir != "" {
		if err := t.checkpoint(); err != nil {
			return err
		}
	}
	if t.val.Len() > 0 {
		t.logger.LogMetrics(t.step, map[string]float64{"val_loss": t.Evaluate()})
	}
	t.logger.LogEvent("run end", "steps", t.step)
	return nil
}

// trainStep runs forward/backward over one batch and applies the optimizer.
// Returns the mean loss.
func (t *Trainer) trainStep(params []*Tensor, batch []int) float64 {
	start := time.Now()

	t.optimizer.ZeroGrad(params)

	totalLoss := 0.0
	tokens := 0
	for _, idx := range batch {
		seq := t.train.At(idx)

		logits, cache := t.model.ForwardWithCache(seq.Input)
		totalLoss += CrossEntropyLoss(logits, seq.Target)
		tokens += len(seq.Target)

		t.model.Backward(cache, CrossEntropyBackward(logits, seq.Target))
	}

	// Average gradients over the batch. Backward accumulated sums.
	if len(batch) > 1 {
		inv := 1.0 / float64(len(batch))
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= inv
			}
		}
	}

	for _, ga := range t.gradientAlgos {
		ga.AfterBackward(params)
	}

	t.optimizer.Step(params, t.scheduler.LR(t.step))

	t.recordRate(float64(tokens) / time.Since(start).Seconds())
	return totalLoss / float64(len(batch))
}

// Evaluate computes mean loss over the validation split without touching
// gradients.
func (t *Trainer) Evaluate() float64 {
	if t.val.Len() == 0 {
		return 0
	}

	totalLoss := 0.0
	for i := 0; i < t.val.Len(); i++ {
		seq := t.val.At(i)
		logits := t.model.Forward(seq.Input)
		totalLoss += CrossEntropyLoss(logits, seq.Target)
	}
	return totalLoss / float64(t.val.Len())
}

// checkpoint saves the model under the checkpoint directory.
func (t *Trainer) checkpoint() error {
	dir := t.cfg.Trainer.CheckpointDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-step%06d.bin", t.cfg.RunName, t.step))
	if err := t.model.Save(path); err != nil {
		return err
	}
	t.logger.LogEvent("checkpoint", "path", path, "step", t.step)
	return nil
}

// recordRate keeps a sliding window of per-step token rates.
func (t *Trainer) recordRate(tokensPerSec float64) {
	t.stepRates = append(t.stepRates, tokensPerSec)
	if len(t.stepRates) > speedWindow {
		t.stepRates = t.stepRates[len(t.stepRates)-speedWindow:]
	}
}

// logMetrics emits the standard per-step metrics snapshot.
func (t *Trainer) logMetrics(loss float64) {
	metrics := map[string]float64{
		"loss":      loss,
		"lr":        t.scheduler.LR(t.step),
		"grad_norm": GradNorm(t.model.Parameters()),
	}
	if len(t.stepRates) > 0 {
		metrics["tokens_per_sec"] = stat.Mean(t.stepRates, nil)
	}
	t.logger.LogMetrics(t.step, metrics)
}

// Close releases the run's resources. Safe to call more than once.
func (t *Trainer) Close() error {
	if t.closedOnce {
		return nil
	}
	t.closedOnce = true
	return t.logger.Close()
}
