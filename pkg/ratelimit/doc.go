/*
Package ratelimit groups the limiters used to bound pipeline execution.

  - concurrency: caps how many operations run at the same time

See the subpackage for details.
*/
package ratelimit
