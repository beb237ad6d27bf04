// Package queue provides the durable message queue that carries jobs
// between pipeline stages. Delivery is at-least-once: a dequeue takes a
// lease by pushing the message's visibility into the future, and a
// message whose lease lapses without an ack becomes claimable again.
//
// Two backends implement the contract. The SQLite backend rides the job
// store's database so a single file holds both jobs and their messages;
// the Redis backend keeps a per-stage sorted set scored by visibility
// time and claims batches atomically with a Lua script.
package queue
