/*
Package empathyfine orchestrates fine-tuning runs of empathetic language models on a single
machine.

A workspace directory holds one SQLite database with every project, its configuration
revisions, dataset metadata and training history. Each project owns a directory laid out
as datasets/, models/, checkpoints/, exports/ and logs/; dataset examples are stored there
as one JSONL payload per revision.

# Components

  - Projects: create, open, configure (append-only revisions), delete with cascade.
  - Datasets: streaming JSONL/CSV import with row-level validation, emotion tagging,
    copy-on-write revisions once a job has pinned one.
  - Jobs: a bounded FIFO of training runs executed by a pluggable ports.Trainer, with
    cooperative cancellation, fan-out metric streams and exactly-once history entries.

# Usage

	core, err := empathyfine.New("./workspace")
	if err != nil {
		log.Fatal(err)
	}
	defer core.Close(context.Background())

	p, _ := core.Projects.CreateProject(ctx, "support-bot", "gpt2", domain.FrameworkHuggingFace, "")
	ds, _ := core.Datasets.ImportFile(ctx, p.ID, "conversations.jsonl", domain.FormatJSONL)
	jobID, _ := core.Train(ctx, p.ID, ds.ID)

	sub, _ := core.Jobs.Subscribe(jobID)
	for point := range sub.All(ctx) {
		fmt.Println(point.Step, point.Loss)
	}

Without WithTrainer the simulated trainer is used, which reproduces the loss curve of a
LoRA run without touching a GPU.
*/
package empathyfine
