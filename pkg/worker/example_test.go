package worker_test

import (
	"context"
	"fmt"
	"log"

	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
	"github.com/petrijr/orderflow/pkg/worker"
)

// ExampleWorker demonstrates constructing a Worker explicitly and using it
// to drive an instance created on a queue-backed engine.
func ExampleWorker() {
	ctx := context.Background()

	queue := taskqueue.NewInMemoryQueue(1024)
	eng := engine.NewInMemoryEngine(queue, nil)

	err := eng.RegisterActivity(api.NewActivity("Greet", func(ctx context.Context, name string) (string, error) {
		return "hello " + name, nil
	}))
	if err != nil {
		log.Fatal(err)
	}
	err = eng.RegisterWorkflow(api.NewWorkflow("Greeting", func(wctx api.WorkflowContext, name string) (string, error) {
		return api.ExecuteActivity[string](wctx, "Greet", name)
	}))
	if err != nil {
		log.Fatal(err)
	}

	// CreateInstance records the instance and enqueues a run task.
	id, err := eng.CreateInstance(ctx, "Greeting", "orders")
	if err != nil {
		log.Fatal(err)
	}

	// Process a single task. In a real application you would call Run.
	w := worker.New(eng, queue)
	if _, err := w.ProcessOne(ctx); err != nil {
		log.Fatal(err)
	}

	inst, err := eng.GetStatus(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(inst.Status, string(inst.Result))
	// Output: Completed "hello orders"
}
