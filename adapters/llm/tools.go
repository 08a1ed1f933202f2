package llm

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"
)

// maxToolRounds bounds how many times one user turn may go back to the
// model with tool output
const maxToolRounds = 4

// orderTool is a function the agent may call while taking an order
type orderTool struct {
	declaration *genai.FunctionDeclaration
	run         func(args map[string]any) (string, error)
}

var orderTools = map[string]orderTool{
	"add_to_order": {
		declaration: &genai.FunctionDeclaration{
			Name:        "add_to_order",
			Description: "Add an item to the customer's sandwich order.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"item":     {Type: genai.TypeString, Description: "The sandwich or topping to add"},
					"quantity": {Type: genai.TypeInteger, Description: "How many to add"},
				},
				Required: []string{"item", "quantity"},
			},
		},
		run: addToOrder,
	},
	"confirm_order": {
		declaration: &genai.FunctionDeclaration{
			Name:        "confirm_order",
			Description: "Confirm the final order with the customer.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"order_summary": {Type: genai.TypeString, Description: "Everything the customer ordered"},
				},
				Required: []string{"order_summary"},
			},
		},
		run: confirmOrder,
	},
}

// orderToolset declares every order tool to the model
func orderToolset() []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(orderTools))
	for _, name := range []string{"add_to_order", "confirm_order"} {
		declarations = append(declarations, orderTools[name].declaration)
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// runTool executes a model-requested call. Failures become the result text
// so the model can recover in its next turn.
func runTool(name string, args map[string]any) (string, bool) {
	tool, ok := orderTools[name]
	if !ok {
		return fmt.Sprintf("Unknown tool %q.", name), false
	}
	result, err := tool.run(args)
	if err != nil {
		return fmt.Sprintf("Error: %v.", err), false
	}
	return result, true
}

func addToOrder(args map[string]any) (string, error) {
	item, err := stringArg(args, "item")
	if err != nil {
		return "", err
	}
	quantity, err := intArg(args, "quantity")
	if err != nil {
		return "", err
	}
	if quantity <= 0 {
		return "", fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	return fmt.Sprintf("Added %d x %s to the order.", quantity, item), nil
}

func confirmOrder(args map[string]any) (string, error) {
	summary, err := stringArg(args, "order_summary")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Order confirmed: %s. Sending to kitchen.", summary), nil
}

func stringArg(args map[string]any, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return value, nil
}

// intArg accepts the float64 that JSON decoding produces as well as Go ints
func intArg(args map[string]any, key string) (int, error) {
	switch value := args[key].(type) {
	case float64:
		if value != math.Trunc(value) {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int(value), nil
	case int:
		return value, nil
	case int32:
		return int(value), nil
	case int64:
		return int(value), nil
	default:
		return 0, fmt.Errorf("missing %s", key)
	}
}
