package server

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"

	"github.com/teranos/carbonfill/ai/invoke"
	"github.com/teranos/carbonfill/decompose"
	"github.com/teranos/carbonfill/lca"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.RegisterValidation("lcastage", isStage); err != nil {
		panic(err)
	}
}

// isStage accepts anything lca.ParseStage accepts, except the empty string.
func isStage(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) == "" {
		return false
	}
	_, err := lca.ParseStage(s)
	return err == nil
}

// CompletionMessage is one chat message of a completion request
type CompletionMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// CompletionRequest is the body of POST /api/v1/ai/completions
type CompletionRequest struct {
	Messages    []CompletionMessage `json:"messages" validate:"required,min=1,max=100,dive"`
	Model       string              `json:"model" validate:"omitempty,max=200"`
	Temperature *float32            `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int                 `json:"max_tokens" validate:"omitempty,min=1,max=8192"`
}

func (r CompletionRequest) toInvoke() invoke.Request {
	msgs := make([]openai.ChatCompletionMessage, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return invoke.Request{
		Messages:    msgs,
		Model:       r.Model,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// DecomposeRequest is the body of POST /api/v1/ai/decompose-product
type DecomposeRequest struct {
	ProductName string  `json:"product_name" validate:"required,max=200"`
	TotalWeight float64 `json:"total_weight" validate:"gt=0"`
	Unit        string  `json:"unit" validate:"omitempty,oneof=g kg"`
}

func (r DecomposeRequest) toDecompose() decompose.Request {
	return decompose.Request{ProductName: r.ProductName, TotalWeight: r.TotalWeight, Unit: r.Unit}
}

// batchRule bounds a match request to 1..max non-null nodes.
func batchRule(max int) string {
	return fmt.Sprintf("min=1,max=%d,dive,required", max)
}

// validationDetails renders one line per failed field, e.g.
// "messages[0].role: oneof=system user assistant".
func validationDetails(verrs validator.ValidationErrors) []string {
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if field == "" {
			field = "body"
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details = append(details, field+": "+rule)
	}
	return details
}
