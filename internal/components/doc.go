// Package components 提供内置的智能体组件：系统基线指令与终止命令、
// 事件历史、用户交互、知识注入，以及封装外部服务的网页、天气与
// 社交组件。组件通过能力接口向行动循环贡献指令、命令、消息与钩子。
package components
