/*
Package domain contains the core models of the EmpathyFine orchestration core.

It defines projects and their configuration history, datasets of annotated
conversational examples, training jobs with their lifecycle state machine, and the
metric stream and history records jobs produce. The package is kept free of I/O so
that every adapter (SQLite, Redis, files, external trainers) depends on it and not
the other way around.

# Key Entities

  - Project: the root aggregate, owning configuration revisions, datasets and history.
  - Dataset: an ordered sequence of Examples plus the ValidationReport derived from it.
  - Job: one training run, moving through JobState under the transition table.
  - MetricPoint: one ordered progress sample emitted while a Job is Running.
  - HistoryEntry: the immutable record appended once a Job is terminal.
*/
package domain
