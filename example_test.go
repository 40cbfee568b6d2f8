package extask_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petrijr/extask"
	"github.com/petrijr/extask/pkg/variables"
)

type invoice struct {
	Number string `xml:"number"`
	Amount int    `xml:"amount"`
}

// Example_localRunner demonstrates handling external tasks with an
// in-process coordinator and worker.
func Example_localRunner() {
	ctx := context.Background()

	engine := extask.NewEngine()
	if err := variables.RegisterType[invoice](engine, "Invoice"); err != nil {
		log.Fatal(err)
	}

	runner := extask.NewLocalRunner(extask.WorkerConfig{Engine: engine})
	done := make(chan extask.Result, 1)

	runner.Worker.Subscribe("approve-invoice").
		LockDuration(10 * time.Second).
		Variables("invoice").
		OnResult(func(r extask.Result) { done <- r }).
		Handler(func(ctx context.Context, task *extask.ExternalTask) (map[string]any, error) {
			inv, err := variables.Get[invoice](task.Variables, "invoice")
			if err != nil {
				return nil, err
			}
			return map[string]any{"approved": inv.Amount < 1000}, nil
		}).
		MustOpen()

	inv, err := engine.Encode(invoice{Number: "INV-7", Amount: 250}, variables.FormatXML)
	if err != nil {
		log.Fatal(err)
	}
	id, err := runner.CreateTask(ctx, "approve-invoice", variables.Map{"invoice": inv})
	if err != nil {
		log.Fatal(err)
	}

	if err := runner.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer runner.Stop(ctx)

	r := <-done
	rec, err := runner.Task(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	approved, err := variables.Get[bool](engine.MapFromWire(rec.Variables), "approved")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("outcome=%s status=%s approved=%t\n", r.Outcome, rec.Status, approved)
	// Output: outcome=complete status=completed approved=true
}

// Example_backoff demonstrates configuring the retry delay of a worker.
func Example_backoff() {
	policy := extask.ExponentialBackoff(100*time.Millisecond, 2, time.Second).Policy()

	for attempt := range 5 {
		fmt.Println(policy.Delay(attempt))
	}
	// Output:
	// 100ms
	// 200ms
	// 400ms
	// 800ms
	// 1s
}
