// gen-diagrams writes sample diagram renderings for the README.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/waypoint/internal/activities"
	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

func main() {
	// fetch order -> in stock? -> (charge | notify restock) -> wait for approval -> ship
	def, err := engine.NewBuilder("order-fulfilment").
		WithName("Order fulfilment").
		WithRoot(activities.NewSequence(
			activities.NewSendHTTPRequest("GET", "https://shop.example/orders/42"),
			activities.NewIf(binding.CEL(`outputs.sendHttpRequest1.status == 200`),
				activities.NewWriteLine("charging card"),
				activities.NewWriteLine("notify restock"),
			),
			activities.NewEvent("approve-shipping"),
			activities.NewWriteLine("shipped"),
		)).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build definition: %v\n", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	done := func(id string, outcomes ...string) *store.ActivityRecord {
		return &store.ActivityRecord{ActivityID: id, Status: schema.ActivityStatusCompleted, Runs: 1,
			StartedAt: &now, CompletedAt: &now, Outcomes: outcomes}
	}
	records := map[string]*store.ActivityRecord{
		"sendHttpRequest1": done("sendHttpRequest1"),
		"if1":              done("if1", activities.OutcomeTrue),
		"writeLine1":       done("writeLine1"),
		"event1":           {ActivityID: "event1", Status: schema.ActivityStatusSuspended, Runs: 1, StartedAt: &now},
	}

	model, err := diagram.Build(def, records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build diagram: %v\n", err)
		os.Exit(1)
	}

	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", outDir, err)
		os.Exit(1)
	}

	ascii := diagram.RenderASCII(model)
	write(filepath.Join(outDir, "diagram-ascii.txt"), []byte(ascii))
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	write(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"))
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	png, err := diagram.RenderImage(context.Background(), model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", err)
		return
	}
	pngPath := filepath.Join(outDir, "diagram-sample.png")
	write(pngPath, png)
	fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
}

func write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
	}
}
