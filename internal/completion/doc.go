package completion

// Package completion decouples asynchronous completion reporting from the
// call stack that started a run. A task whose Run returns before its work
// finishes is closed later by publishing to the task's id here.
