package controller

import "errors"

var (
	ErrNoCommand = errors.New("qc command needs an entry point")
	ErrNoFiles   = errors.New("no files to check")
	ErrNotFASTQ  = errors.New("file name is not .fastq, .fq, .fastq.gz or .fq.gz")
)
