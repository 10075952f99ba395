package flowctl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/ratelimit"
)

func testContext(config, input map[string]interface{}) *node.Context {
	return &node.Context{
		ExecutionID: "exec-1",
		FlowID:      "flow-1",
		UserID:      "user-1",
		NodeID:      "node-1",
		Config:      config,
		Input:       input,
	}
}

func TestConditionOperators(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		expected interface{}
		input    map[string]interface{}
		branch   string
	}{
		{"equals match", "equals", "active", map[string]interface{}{"status": "active"}, "true"},
		{"equals miss", "equals", "active", map[string]interface{}{"status": "archived"}, "false"},
		{"notEquals", "notEquals", "active", map[string]interface{}{"status": "archived"}, "true"},
		{"contains", "contains", "err", map[string]interface{}{"status": "has errors"}, "true"},
		{"startsWith", "startsWith", "act", map[string]interface{}{"status": "active"}, "true"},
		{"endsWith miss", "endsWith", "act", map[string]interface{}{"status": "active"}, "false"},
		{"greaterThan numeric", "greaterThan", 10, map[string]interface{}{"status": 12}, "true"},
		{"greaterThan string coercion", "greaterThan", "10", map[string]interface{}{"status": "9"}, "false"},
		{"lessOrEqual boundary", "lessOrEqual", 10, map[string]interface{}{"status": 10}, "true"},
		{"isEmpty", "isEmpty", nil, map[string]interface{}{"status": ""}, "true"},
		{"isNotEmpty", "isNotEmpty", nil, map[string]interface{}{"status": "x"}, "true"},
		{"isTrue", "isTrue", nil, map[string]interface{}{"status": true}, "true"},
		{"regex", "regex", "^a.+e$", map[string]interface{}{"status": "active"}, "true"},
		{"exists", "exists", nil, map[string]interface{}{"status": nil}, "true"},
		{"notExists on absent field", "notExists", nil, map[string]interface{}{"other": 1}, "true"},
		{"unknown operator routes false", "fuzzyMatch", "x", map[string]interface{}{"status": "x"}, "false"},
	}

	h := NewCondition()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nc := testContext(map[string]interface{}{
				"field":    "status",
				"operator": tt.operator,
				"value":    tt.expected,
			}, tt.input)

			res := h.Execute(context.Background(), nc)
			require.True(t, res.IsSuccess())
			require.Equal(t, []string{tt.branch}, res.Branches)
		})
	}
}

func TestConditionPassesInputThrough(t *testing.T) {
	h := NewCondition()
	input := map[string]interface{}{"status": "active", "id": 7}
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"field": "status", "operator": "equals", "value": "active",
	}, input))

	require.True(t, res.IsSuccess())
	assert.Equal(t, input, res.Output)

	// The output is a clone, not the same map.
	res.Output["mutated"] = true
	assert.NotContains(t, input, "mutated")
}

func TestSwitchFirstMatchWins(t *testing.T) {
	h := NewSwitch()
	config := map[string]interface{}{
		"field": "tier",
		"rules": []interface{}{
			map[string]interface{}{"value": "gold", "branch": "vip"},
			map[string]interface{}{"value": "gold", "branch": "shadowed"},
			map[string]interface{}{"value": "silver", "branch": "standard"},
		},
		"defaultBranch": "everyoneElse",
	}

	res := h.Execute(context.Background(), testContext(config, map[string]interface{}{"tier": "gold"}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"vip"}, res.Branches)

	res = h.Execute(context.Background(), testContext(config, map[string]interface{}{"tier": "bronze"}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"everyoneElse"}, res.Branches)
}

func TestSwitchDefaultBranchName(t *testing.T) {
	h := NewSwitch()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"field": "tier",
	}, map[string]interface{}{"tier": "gold"}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"default"}, res.Branches)
}

func TestFilterSplitsItems(t *testing.T) {
	h := NewFilter()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"field":    "score",
		"operator": "greaterThan",
		"value":    50,
	}, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"name": "a", "score": 80},
			map[string]interface{}{"name": "b", "score": 30},
			map[string]interface{}{"name": "c", "score": 51},
		},
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 2, res.Output["count"])
	assert.Equal(t, 1, res.Output["rejectedCount"])

	filtered := res.Output["filtered"].([]interface{})
	require.Len(t, filtered, 2)
	assert.Equal(t, "a", filtered[0].(map[string]interface{})["name"])
	assert.Equal(t, "c", filtered[1].(map[string]interface{})["name"])
}

func TestFilterUnknownOperatorKeepsEverything(t *testing.T) {
	h := NewFilter()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"field":    "score",
		"operator": "resembles",
		"value":    50,
	}, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"score": 1},
			map[string]interface{}{"score": 99},
		},
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 2, res.Output["count"])
	assert.Equal(t, 0, res.Output["rejectedCount"])
}

func TestFilterWithoutFieldComparesItem(t *testing.T) {
	h := NewFilter()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"operator": "equals",
		"value":    "keep",
	}, map[string]interface{}{
		"items": []interface{}{"keep", "drop", "keep"},
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{"keep", "keep"}, res.Output["filtered"])
}

func prevContext(config map[string]interface{}, order []string, prev map[string]map[string]interface{}) *node.Context {
	nc := testContext(config, map[string]interface{}{})
	nc.Previous = prev
	nc.PreviousOrder = order
	return nc
}

func TestMergeAppendFlattensAndSkipsNils(t *testing.T) {
	h := NewMerge()
	nc := prevContext(map[string]interface{}{
		"mode":  "append",
		"field": "items",
	}, []string{"left", "mid", "right"}, map[string]map[string]interface{}{
		"left":  {"items": []interface{}{1, 2}},
		"mid":   {},
		"right": {"items": "solo"},
	})

	res := h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{1, 2, "solo"}, res.Output["merged"])
}

func TestMergeCombineDeepMerges(t *testing.T) {
	h := NewMerge()
	nc := prevContext(map[string]interface{}{
		"mode": "combine",
	}, []string{"first", "second"}, map[string]map[string]interface{}{
		"first":  {"user": map[string]interface{}{"name": "Ada", "role": "admin"}},
		"second": {"user": map[string]interface{}{"role": "owner"}, "extra": true},
	})

	res := h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())

	merged, ok := res.Output["merged"].(map[string]interface{})
	require.True(t, ok)
	user := merged["user"].(map[string]interface{})
	assert.Equal(t, "Ada", user["name"])
	assert.Equal(t, "owner", user["role"])
	assert.Equal(t, true, merged["extra"])
}

func TestMergeMultiplexKeysByInputName(t *testing.T) {
	h := NewMerge()
	nc := prevContext(map[string]interface{}{
		"mode": "multiplex", "outputKey": "byBranch",
	}, []string{"a", "b"}, map[string]map[string]interface{}{
		"a": {"v": 1},
		"b": {"v": 2},
	})

	res := h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())

	merged := res.Output["byBranch"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"v": 1}, merged["a"])
	assert.Equal(t, map[string]interface{}{"v": 2}, merged["b"])
}

func TestMergeChooseBranchTakesFirstNonNil(t *testing.T) {
	h := NewMerge()
	nc := prevContext(map[string]interface{}{
		"mode": "chooseBranch", "field": "result",
	}, []string{"untaken", "taken"}, map[string]map[string]interface{}{
		"untaken": {},
		"taken":   {"result": "winner"},
	})

	res := h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())
	assert.Equal(t, "winner", res.Output["merged"])
}

func TestMergeSingleInputUsesMainKey(t *testing.T) {
	h := NewMerge()
	nc := testContext(map[string]interface{}{"mode": "multiplex"}, map[string]interface{}{"v": 1})

	res := h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())

	merged := res.Output["merged"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"v": 1}, merged["main"])
}

func TestMergeUnknownModeFails(t *testing.T) {
	h := NewMerge()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{"mode": "zip"}, nil))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}

func TestLoopBatchesItems(t *testing.T) {
	h := NewLoop()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"batchSize": 2,
	}, map[string]interface{}{
		"items": []interface{}{"a", "b", "c", "d", "e"},
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 5, res.Output["totalItems"])
	assert.Equal(t, 3, res.Output["totalBatches"])

	emissions := res.Metadata[node.MetaFanOut].([]interface{})
	require.Len(t, emissions, 3)

	first := emissions[0].(map[string]interface{})
	assert.Equal(t, 0, first["batchIndex"])
	assert.Equal(t, 2, first["itemsInBatch"])
	assert.Equal(t, []interface{}{"a", "b"}, first["items"])

	last := emissions[2].(map[string]interface{})
	assert.Equal(t, 1, last["itemsInBatch"])
	assert.Equal(t, []interface{}{"e"}, last["items"])
}

func TestLoopSplitsDelimitedStrings(t *testing.T) {
	h := NewLoop()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"arrayField": "csv",
		"delimiter":  ",",
	}, map[string]interface{}{
		"csv": "a, b, ,c",
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 3, res.Output["totalItems"])
}

func TestLoopIncludeIndexAnnotatesItems(t *testing.T) {
	h := NewLoop()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"includeIndex": true,
	}, map[string]interface{}{
		"items": []interface{}{"x", "y"},
	}))

	require.True(t, res.IsSuccess())
	emissions := res.Metadata[node.MetaFanOut].([]interface{})
	require.Len(t, emissions, 2)

	second := emissions[1].(map[string]interface{})["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 1, second["index"])
	assert.Equal(t, "y", second["value"])
	assert.Equal(t, true, second["isLast"])
}

func TestLoopRejectsBadBatchSize(t *testing.T) {
	h := NewLoop()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"batchSize": 0,
	}, map[string]interface{}{"items": []interface{}{1}}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}

func TestSplitOutEmitsOnePerItem(t *testing.T) {
	h := NewSplitOut()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"destinationField": "row",
	}, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": 1},
			"plain",
		},
	}))

	require.True(t, res.IsSuccess())
	emissions := res.Metadata[node.MetaFanOut].([]interface{})
	require.Len(t, emissions, 2)

	first := emissions[0].(map[string]interface{})
	assert.Equal(t, 1, first["id"])
	assert.Equal(t, 0, first["index"])

	second := emissions[1].(map[string]interface{})
	assert.Equal(t, "plain", second["row"])
	assert.Equal(t, 2, second["total"])
}

func TestWaitSuspendsWithTimerDeadline(t *testing.T) {
	h := NewWait()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"amount": 5, "unit": "minutes",
	}, map[string]interface{}{}))

	require.True(t, res.IsPause())
	require.NotNil(t, res.Pause)
	assert.Equal(t, "timer", res.Pause.ResumeKind)
	require.NotNil(t, res.Pause.ScheduledResumeAt)

	remaining := time.Until(*res.Pause.ScheduledResumeAt)
	assert.Greater(t, remaining, 4*time.Minute)
	assert.LessOrEqual(t, remaining, 5*time.Minute)
}

func TestWaitZeroDurationPassesThrough(t *testing.T) {
	h := NewWait()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"amount": 0,
	}, map[string]interface{}{"v": 1}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 1, res.Output["v"])
	assert.Contains(t, res.Output, "_waitInfo")
}

func TestWaitRejectsUnknownUnit(t *testing.T) {
	h := NewWait()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"unit": "fortnights",
	}, map[string]interface{}{}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}

func TestWaitResumeReportsElapsed(t *testing.T) {
	h := NewWait()
	nc := testContext(map[string]interface{}{}, map[string]interface{}{"v": 1})
	nc.Global = map[string]interface{}{
		node.GlobalResumeKey: map[string]interface{}{
			"pausedAt": time.Now().Add(-2 * time.Second).UTC().Format(time.RFC3339Nano),
		},
	}

	res := h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())

	info := res.Output["_waitInfo"].(map[string]interface{})
	waited := info["waitedMs"].(int64)
	assert.GreaterOrEqual(t, waited, int64(2000))
}

func TestRetryFirstEntryAttachesConfig(t *testing.T) {
	h := NewRetry()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"maxRetries": 5, "strategy": "linear", "initialDelayMs": 100,
	}, map[string]interface{}{"v": 1}))

	require.True(t, res.IsSuccess())
	cfg := res.Output["_retryConfig"].(map[string]interface{})
	assert.Equal(t, 5, cfg["maxRetries"])
	assert.Equal(t, "linear", cfg["strategy"])
}

func TestRetryLoopBackIncrementsAttempt(t *testing.T) {
	h := NewRetry()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"strategy": "linear", "initialDelayMs": 100,
	}, map[string]interface{}{
		"_error":        map[string]interface{}{"message": "boom"},
		"_retryAttempt": 1,
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 2, res.Output["_retryAttempt"])
	assert.Equal(t, 200, res.Output["_retryDelay"])
	assert.NotContains(t, res.Output, "_error")
}

func TestRetryExhaustionKeepsOriginalKind(t *testing.T) {
	h := NewRetry()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"maxRetries": 2,
	}, map[string]interface{}{
		"_error":        map[string]interface{}{"kind": string(node.KindDependency)},
		"_retryAttempt": 2,
	}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindDependency, res.Err.Kind)
}

func TestRetryBackoffStrategies(t *testing.T) {
	assert.Equal(t, 100, nextDelay("fixed", 100, 2, 3))
	assert.Equal(t, 300, nextDelay("linear", 100, 2, 3))
	assert.Equal(t, 400, nextDelay("exponential", 100, 2, 3))

	jittered := nextDelay("jitter", 100, 2, 1)
	assert.GreaterOrEqual(t, jittered, 100)
	assert.Less(t, jittered, 200)
}

func TestRateLimiterModes(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	h := NewRateLimiter(store)
	config := map[string]interface{}{
		"key": "k", "maxRequests": 1, "windowMs": 60000, "mode": "drop",
	}

	res := h.Execute(context.Background(), testContext(config, map[string]interface{}{"v": 1}))
	require.True(t, res.IsSuccess())
	assert.NotContains(t, res.Output, "dropped")

	// Budget exhausted; drop mode passes through marked.
	res = h.Execute(context.Background(), testContext(config, map[string]interface{}{"v": 2}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, true, res.Output["dropped"])

	config["mode"] = "error"
	res = h.Execute(context.Background(), testContext(config, nil))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindRateLimited, res.Err.Kind)

	config["mode"] = "delay"
	res = h.Execute(context.Background(), testContext(config, nil))
	require.True(t, res.IsPause())
	assert.Equal(t, "timer", res.Pause.ResumeKind)
	require.NotNil(t, res.Pause.ScheduledResumeAt)
}

func TestRateLimiterValidation(t *testing.T) {
	h := NewRateLimiter(ratelimit.NewMemoryStore())

	res := h.Execute(context.Background(), testContext(map[string]interface{}{"maxRequests": 0}, nil))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)

	missing := NewRateLimiter(nil)
	res = missing.Execute(context.Background(), testContext(map[string]interface{}{}, nil))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindDependency, res.Err.Kind)
}

func TestNoOpClonesInput(t *testing.T) {
	h := NewNoOp()
	input := map[string]interface{}{"v": 1}
	res := h.Execute(context.Background(), testContext(nil, input))

	require.True(t, res.IsSuccess())
	assert.Equal(t, input, res.Output)
}

func TestStopAndError(t *testing.T) {
	h := NewStopAndError()
	res := h.Execute(context.Background(), testContext(map[string]interface{}{
		"message": "halted by operator", "errorKind": string(node.KindValidation),
	}, nil))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "halted by operator")

	// Unknown kinds sink to internal.
	res = h.Execute(context.Background(), testContext(map[string]interface{}{"errorKind": "weird"}, nil))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindInternal, res.Err.Kind)
}

func TestRespondWebhookModes(t *testing.T) {
	h := NewRespondWebhook()

	t.Run("auto with map input", func(t *testing.T) {
		res := h.Execute(context.Background(), testContext(map[string]interface{}{},
			map[string]interface{}{"ok": true}))
		require.True(t, res.IsSuccess())

		assert.Equal(t, 200, res.Output["statusCode"])
		headers := res.Output["headers"].(map[string]interface{})
		assert.Equal(t, "application/json", headers["Content-Type"])
		assert.Equal(t, map[string]interface{}{"ok": true}, res.Output["body"])

		meta := res.Metadata[MetaWebhookResponse].(map[string]interface{})
		assert.Equal(t, res.Output, meta)
	})

	t.Run("text mode", func(t *testing.T) {
		res := h.Execute(context.Background(), testContext(map[string]interface{}{
			"bodyMode": "text", "body": "pong",
		}, nil))
		require.True(t, res.IsSuccess())

		headers := res.Output["headers"].(map[string]interface{})
		assert.Equal(t, "text/plain", headers["Content-Type"])
		assert.Equal(t, "pong", res.Output["body"])
	})

	t.Run("auto with string body", func(t *testing.T) {
		res := h.Execute(context.Background(), testContext(map[string]interface{}{
			"body": "accepted",
		}, map[string]interface{}{"ignored": true}))
		require.True(t, res.IsSuccess())

		headers := res.Output["headers"].(map[string]interface{})
		assert.Equal(t, "text/plain", headers["Content-Type"])
		assert.Equal(t, "accepted", res.Output["body"])
	})

	t.Run("explicit header wins", func(t *testing.T) {
		res := h.Execute(context.Background(), testContext(map[string]interface{}{
			"headers": map[string]interface{}{"Content-Type": "application/xml"},
		}, map[string]interface{}{}))
		require.True(t, res.IsSuccess())

		headers := res.Output["headers"].(map[string]interface{})
		assert.Equal(t, "application/xml", headers["Content-Type"])
	})

	t.Run("invalid status code", func(t *testing.T) {
		res := h.Execute(context.Background(), testContext(map[string]interface{}{
			"statusCode": 42,
		}, nil))
		require.True(t, res.IsFailure())
		assert.Equal(t, node.KindValidation, res.Err.Kind)
	})
}
