// Package cache provides the response cache shared by list handlers and the
// signal subscribers that invalidate it.
//
// Keys follow <prefix>:<view>[:user_<id>][:<sha256-16>] where the hash covers
// the canonical JSON of the query parameters. Redis is the primary store; a
// bounded in-process LRU is used when Redis is not configured. Every backend
// error is logged and treated as a miss.
package cache
