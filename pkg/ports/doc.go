/*
Package ports defines the driven ports (interfaces) of the orchestration core.

These interfaces decouple the project store, ingestion pipeline and job orchestrator
from concrete storage engines, training backends and scoring implementations.

# Key Interfaces

  - ProjectStore: durable metadata for projects, configuration revisions, datasets and history.
  - ExampleStore: bulk example payloads, one immutable blob per dataset revision.
  - Trainer: runs one training job and reports progress.
  - Scorer: optional empathy scoring of generated samples.
  - CheckpointSink: non-authoritative progress snapshots of running jobs.
*/
package ports
