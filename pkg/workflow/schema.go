package workflow

// definitionSchema is the document shape accepted by LoadDefinitionJSON.
// Semantics beyond shape (reachability, default edges, join bounds) are
// checked by Definition.Validate at publish.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "graph"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 3},
    "version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "active": {"type": "boolean"},
    "variables": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"enum": ["string", "number", "boolean", "datetime", "duration", "json"]},
          "default": {},
          "required": {"type": "boolean"}
        }
      }
    },
    "graph": {
      "type": "object",
      "required": ["nodes", "edges"],
      "properties": {
        "nodes": {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "required": ["id", "name", "kind"],
            "properties": {
              "id": {"type": "string"},
              "name": {"type": "string"},
              "kind": {"enum": ["start", "task", "decision", "parallel", "join", "timer", "end"]},
              "assignee_rule": {"type": "string"},
              "sla": {"type": "number"},
              "expected_branches": {"type": "integer", "minimum": 1},
              "duration": {"type": "number"},
              "default_edge": {"type": "string"},
              "error_edge": {"type": "string"},
              "guards": {"type": "array"},
              "entry_actions": {"type": "array"},
              "exit_actions": {"type": "array"},
              "timeout_actions": {"type": "array"},
              "branches": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["name", "edge"],
                  "properties": {
                    "name": {"type": "string"},
                    "edge": {"type": "string"},
                    "condition": {"type": "object"}
                  }
                }
              }
            }
          }
        },
        "edges": {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "required": ["id", "from", "to"],
            "properties": {
              "id": {"type": "string"},
              "from": {"type": "string"},
              "to": {"type": "string"},
              "priority": {"type": "integer"},
              "condition": {"type": "object"}
            }
          }
        },
        "start_nodes": {"type": "array", "items": {"type": "string"}},
        "end_nodes": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`
