// Package mocks provides gomock implementations of the core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockJobStore(ctrl)
//	store.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("job-1", nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_store_mock.go github.com/target/jobfacade/internal/core JobStore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_queue_mock.go github.com/target/jobfacade/internal/core JobQueue
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=schedule_repository_mock.go github.com/target/jobfacade/internal/core ScheduleRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=retention_repository_mock.go github.com/target/jobfacade/internal/core RetentionRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=worker_registry_mock.go github.com/target/jobfacade/internal/core WorkerRegistry
