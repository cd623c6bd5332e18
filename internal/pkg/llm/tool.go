package llm

import "github.com/tmc/langchaingo/llms"

// DefineLoreSearchTool 定义设定集检索工具的元数据
func DefineLoreSearchTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "search_lore",
			Description: "检索平台内的世界观设定、角色背景与剧本资料。当你需要核对设定细节、人物关系或剧情前因时，请调用此工具。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "检索关键词，例如：'北境王国的继承制度'、'艾琳与导师的关系'",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// DefineWebSearchTool 定义互联网搜索工具的元数据
func DefineWebSearchTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "web_search",
			Description: "在互联网上搜索实时信息。当对话涉及时事、现实世界知识或你不确定的事实时，请调用此工具。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "搜索关键词",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// DefineWebFetchTool 定义网页抓取工具的元数据
func DefineWebFetchTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "web_fetch",
			Description: "抓取指定网页并提取正文内容。当你拿到一个链接需要阅读其内容时，请调用此工具。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "完整的网页地址",
					},
				},
				"required": []string{"url"},
			},
		},
	}
}
