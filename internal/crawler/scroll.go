package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RegisterFunc collects the cards currently mounted on a listing page.
type RegisterFunc func(ctx context.Context) error

// ScrollStrategy drives a listing page until all cards have been mounted and
// registered. Every strategy finishes with one register pass; dedup of cards
// seen more than once happens at admission.
type ScrollStrategy interface {
	Scroll(ctx context.Context, page Page, register RegisterFunc) error
}

// NoScroll registers the cards of a static listing page once.
type NoScroll struct{}

func (NoScroll) Scroll(ctx context.Context, _ Page, register RegisterFunc) error {
	return register(ctx)
}

// IncrementalScroll steps the viewport down to the document height, settling
// just above the bottom to trigger bottom-anchored loaders. RegisterEachStep
// is for pages that prune off-screen cards.
type IncrementalScroll struct {
	Step             int
	Pause            time.Duration
	RegisterEachStep bool
	MaxSteps         int
}

func (s IncrementalScroll) Scroll(ctx context.Context, page Page, register RegisterFunc) error {
	step := s.Step
	if step <= 0 {
		step = 500
	}
	pause := s.Pause
	if pause <= 0 {
		pause = 100 * time.Millisecond
	}
	maxSteps := s.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 400
	}

	vp, err := readViewport(ctx, page)
	if err != nil {
		return err
	}

	pos := vp.ScrollY + vp.InnerHeight
	height := vp.ScrollHeight
	for i := 0; pos < height && i < maxSteps; i++ {
		if err := scrollTo(ctx, page, pos); err != nil {
			return err
		}
		if err := sleep(ctx, pause); err != nil {
			return err
		}
		if s.RegisterEachStep {
			if err := register(ctx); err != nil {
				return err
			}
		}
		pos += float64(step)
		if height, err = evalFloat(ctx, page, "document.body.scrollHeight"); err != nil {
			return err
		}
	}

	if vp, err = readViewport(ctx, page); err != nil {
		return err
	}
	settle := vp.ScrollHeight - (vp.InnerHeight + 100)
	if settle < 0 {
		settle = 0
	}
	if err := scrollTo(ctx, page, settle); err != nil {
		return err
	}
	if err := sleep(ctx, pause); err != nil {
		return err
	}

	return register(ctx)
}

// StopFunc runs before each growth check of ConvergentScroll. Returning true
// ends the loop.
type StopFunc func(ctx context.Context, page Page, register RegisterFunc) (bool, error)

// ConvergentScroll scrolls to the bottom until the document stops growing.
type ConvergentScroll struct {
	StepWait  time.Duration
	MaxRounds int
	Stop      StopFunc
}

func (s ConvergentScroll) Scroll(ctx context.Context, page Page, register RegisterFunc) error {
	wait := s.StepWait
	if wait <= 0 {
		wait = time.Second
	}
	rounds := s.MaxRounds
	if rounds <= 0 {
		rounds = 100
	}

	height, err := evalFloat(ctx, page, "document.body.scrollHeight")
	if err != nil {
		return err
	}

	for round := 0; round < rounds; round++ {
		if err := scrollTo(ctx, page, height); err != nil {
			return err
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		if s.Stop != nil {
			stop, err := s.Stop(ctx, page, register)
			if err != nil {
				return err
			}
			if stop {
				break
			}
		}
		grown, err := evalFloat(ctx, page, "document.body.scrollHeight")
		if err != nil {
			return err
		}
		if grown <= height {
			break
		}
		height = grown
	}

	return register(ctx)
}

// NudgeUp scrolls back up by distance pixels and waits, which makes lazy
// lists that only load on upward movement fetch the next batch. It never
// stops the loop.
func NudgeUp(distance int, wait time.Duration, registerEachRound bool) StopFunc {
	return func(ctx context.Context, page Page, register RegisterFunc) (bool, error) {
		if _, err := page.Evaluate(ctx, "(d) => window.scrollBy(0, -d)", distance); err != nil {
			return false, fmt.Errorf("failed to scroll up: %w", err)
		}
		if err := sleep(ctx, wait); err != nil {
			return false, err
		}
		if registerEachRound {
			if err := register(ctx); err != nil {
				return false, err
			}
		}
		return false, nil
	}
}

type viewport struct {
	ScrollY      float64
	InnerHeight  float64
	ScrollHeight float64
}

func readViewport(ctx context.Context, page Page) (viewport, error) {
	var vp viewport
	var err error
	if vp.ScrollY, err = evalFloat(ctx, page, "window.scrollY"); err != nil {
		return vp, err
	}
	if vp.InnerHeight, err = evalFloat(ctx, page, "window.innerHeight"); err != nil {
		return vp, err
	}
	if vp.ScrollHeight, err = evalFloat(ctx, page, "document.body.scrollHeight"); err != nil {
		return vp, err
	}
	return vp, nil
}

func scrollTo(ctx context.Context, page Page, y float64) error {
	if _, err := page.Evaluate(ctx, "(y) => window.scrollTo(0, y)", y); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

func evalFloat(ctx context.Context, page Page, expr string) (float64, error) {
	v, err := page.Evaluate(ctx, expr)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %s: %w", expr, err)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unexpected %T from %s", v, expr)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
