// Package docsort defines the domain types shared across subsystems: projects,
// uploaded documents, classifications, and the jobs that process them. It also
// declares the collaborator interfaces the dispatcher and workers depend on.
package docsort
