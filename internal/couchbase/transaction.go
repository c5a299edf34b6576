package couchbase

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// DefaultTransactionTimeout bounds a transaction including its retries.
const DefaultTransactionTimeout = 10 * time.Second

// Transactions runs functions inside Couchbase distributed transactions.
type Transactions struct {
	cluster *gocb.Cluster
	timeout time.Duration
}

// NewTransactions creates a transaction runner for cluster. A zero timeout
// selects DefaultTransactionTimeout.
func NewTransactions(cluster *gocb.Cluster, timeout time.Duration) (*Transactions, error) {
	if cluster == nil {
		return nil, fmt.Errorf("couchbase cluster cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}

	return &Transactions{
		cluster: cluster,
		timeout: timeout,
	}, nil
}

// Run executes fn in a transaction, retrying it on conflicts, and returns
// the transaction ID.
func (t *Transactions) Run(fn TransactionAttempt) (string, error) {
	opts := gocb.TransactionOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         t.timeout,
	}
	run := func(actx *gocb.TransactionAttemptContext) error {
		return fn(&transactionRunner{ctx: actx})
	}

	res, err := t.cluster.Transactions().Run(run, &opts)
	if err != nil {
		return "", fmt.Errorf("failed to run transaction: %w", err)
	}

	return res.TransactionID, nil
}

type transactionRunner struct {
	ctx *gocb.TransactionAttemptContext
}

func (t *transactionRunner) Get(tc TransactionCollection, key string) (*gocb.TransactionGetResult, error) {
	return t.ctx.Get(tc.Collection(), key)
}

func (t *transactionRunner) Insert(tc TransactionCollection, key string, value any) (*gocb.TransactionGetResult, error) {
	return t.ctx.Insert(tc.Collection(), key, value)
}

func (t *transactionRunner) Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error) {
	return t.ctx.Replace(doc, value)
}

// TransactionRunner performs document operations within one transaction
// attempt.
type TransactionRunner interface {
	Get(tc TransactionCollection, key string) (*gocb.TransactionGetResult, error)
	Insert(tc TransactionCollection, key string, value any) (*gocb.TransactionGetResult, error)
	Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error)
}

// TransactionCollection is a collection that can take part in a transaction.
type TransactionCollection interface {
	Collection() *gocb.Collection
}

// TransactionAttempt is the body of a transaction.
type TransactionAttempt func(t TransactionRunner) error
