// Package blocks 封装智能体命令背后的外部服务调用，包括网页搜索、
// 内容抓取、事实核查、天气查询与社交发布。每个 Block 只负责一类
// 外部能力，命令层在其之上完成参数校验与结果整形。
package blocks
