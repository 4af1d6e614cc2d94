// Package orchestrator — граница между арбитражем запусков и движком исполнения.
//
// Orchestrator отвечает за:
//   - Компиляцию flow в DAG и публикацию dag.launch после взятия lease
//   - Запись checkpoint при прогрессе job (dags.checkpoint)
//   - Очистку checkpoint при завершении DAG (dags.completed)
//   - Восстановление после рестарта: dag.reconcile для найденных DAG
//     и повторный арбитраж незавершённых DagAction
package orchestrator
